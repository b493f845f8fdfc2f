package structures

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/mdf/internal/convert"
	"github.com/scigolib/mdf/internal/core"
	"github.com/scigolib/mdf/internal/utils"
)

// v4 header block location and channel data-section size.
const (
	v4HeaderOffset = 64
	v4CNDataSize   = 72
	v4CCDataFixed  = 24
)

type v4Parser struct {
	r utils.ReaderAt

	// problems collects non-fatal findings (unsupported conversion types)
	// surfaced via Graph.Problems.
	problems []error
}

// ParseV4 materializes the block graph of a v4 file. The data-group walk
// tolerates broken subtrees; header and file-history problems only drop
// their own blocks.
func ParseV4(r utils.ReaderAt, id *core.Identification) (*Graph, error) {
	p := &v4Parser{r: r}

	g := &Graph{
		Dialect:   core.DialectV4,
		Version:   id.Version,
		ByteOrder: binary.LittleEndian,
	}

	h, err := core.ReadBlockHeaderV4(p.r, v4HeaderOffset)
	if err != nil {
		return nil, utils.WrapError("header block parse failed", err)
	}
	if h.ID != "##HD" {
		return nil, utils.WrapError(
			fmt.Sprintf("expected ##HD, found %q", h.ID), utils.ErrUnknownBlockType)
	}
	links, err := core.ReadLinksV4(p.r, v4HeaderOffset, h.LinkCount)
	if err != nil || len(links) < 6 {
		return nil, utils.WrapError("header block links", utils.ErrTruncatedBlock)
	}
	dgFirst, fhFirst := links[0], links[1]
	atFirst, evFirst, mdComment := links[3], links[4], links[5]
	g.ChannelHierarchy = int64(links[2])

	dataAt := v4HeaderOffset + core.BlockHeaderV4Size + int64(h.LinkCount)*8
	if startNS, err := utils.ReadUint64(p.r, dataAt, binary.LittleEndian); err == nil {
		g.Header.StartTimeNS = startNS
	}
	if mdComment != 0 {
		if text, err := p.readTextOrXML(int64(mdComment)); err == nil {
			fillHeaderComment(&g.Header, text)
		}
	}

	p.parseFileHistory(g, int64(fhFirst))
	p.parseAttachments(g, int64(atFirst))
	p.parseEvents(g, int64(evFirst))

	walker := newLinkWalker()
	for offset := int64(dgFirst); offset != 0; {
		if err := walker.visit(offset); err != nil {
			g.Problems = append(g.Problems, err)
			break
		}
		next, dg, err := p.parseDataGroup(offset, len(g.DataGroups))
		if err != nil {
			g.Problems = append(g.Problems,
				utils.WrapError(fmt.Sprintf("data group at %d dropped", offset), err))
			if next == 0 {
				break
			}
			offset = next
			continue
		}
		g.DataGroups = append(g.DataGroups, *dg)
		offset = next
	}

	g.Problems = append(g.Problems, p.problems...)
	applyChannelRenames(g)
	return g, nil
}

func (p *v4Parser) parseDataGroup(offset int64, index int) (next int64, dg *DataGroup, err error) {
	h, err := core.ReadBlockHeaderV4(p.r, offset)
	if err != nil {
		return 0, nil, err
	}
	if h.ID != "##DG" {
		return 0, nil, utils.WrapError(
			fmt.Sprintf("expected ##DG, found %q", h.ID), utils.ErrUnknownBlockType)
	}
	links, err := core.ReadLinksV4(p.r, offset, h.LinkCount)
	if err != nil || len(links) < 4 {
		return 0, nil, utils.WrapError("data group links", utils.ErrTruncatedBlock)
	}
	next = int64(links[0])

	dataAt := offset + core.BlockHeaderV4Size + int64(h.LinkCount)*8
	recIDSize, err := utils.ReadBytes(p.r, dataAt, 1)
	if err != nil {
		return next, nil, utils.WrapError("data group body", utils.ErrTruncatedBlock)
	}

	dg = &DataGroup{
		Index:        index,
		RecordIDSize: recIDSize[0],
		DataOffset:   int64(links[2]),
	}
	if links[3] != 0 {
		if text, err := p.readTextOrXML(int64(links[3])); err == nil {
			dg.Comment = text
		}
	}

	walker := newLinkWalker()
	for cgOffset := int64(links[1]); cgOffset != 0; {
		if err := walker.visit(cgOffset); err != nil {
			return next, nil, err
		}
		nextCG, cg, err := p.parseChannelGroup(cgOffset)
		if err != nil {
			return next, nil, err
		}
		dg.Groups = append(dg.Groups, *cg)
		cgOffset = nextCG
	}
	return next, dg, nil
}

func (p *v4Parser) parseChannelGroup(offset int64) (next int64, cg *ChannelGroup, err error) {
	h, err := core.ReadBlockHeaderV4(p.r, offset)
	if err != nil {
		return 0, nil, err
	}
	if h.ID != "##CG" {
		return 0, nil, utils.WrapError(
			fmt.Sprintf("expected ##CG, found %q", h.ID), utils.ErrUnknownBlockType)
	}
	links, err := core.ReadLinksV4(p.r, offset, h.LinkCount)
	if err != nil || len(links) < 6 {
		return 0, nil, utils.WrapError("channel group links", utils.ErrTruncatedBlock)
	}
	next = int64(links[0])

	dataAt := offset + core.BlockHeaderV4Size + int64(h.LinkCount)*8
	buf, err := utils.ReadBytes(p.r, dataAt, 32)
	if err != nil {
		return next, nil, utils.WrapError("channel group body", utils.ErrTruncatedBlock)
	}

	cg = &ChannelGroup{
		BlockOffset:     offset,
		SampleReduction: int64(links[4]),
		RecordID:        binary.LittleEndian.Uint64(buf[0:8]),
		CycleCount:      binary.LittleEndian.Uint64(buf[8:16]),
		Flags:           binary.LittleEndian.Uint16(buf[16:18]),
		DataBytes:       binary.LittleEndian.Uint32(buf[24:28]),
		InvalBytes:      binary.LittleEndian.Uint32(buf[28:32]),
	}
	if links[2] != 0 {
		if name, err := p.readTextOrXML(int64(links[2])); err == nil {
			cg.AcqName = name
		}
	}
	if links[3] != 0 {
		cg.Source, _ = p.parseSourceInfo(int64(links[3]))
	}
	if links[5] != 0 {
		if text, err := p.readTextOrXML(int64(links[5])); err == nil {
			cg.Comment = text
		}
	}

	walker := newLinkWalker()
	for cnOffset := int64(links[1]); cnOffset != 0; {
		if err := walker.visit(cnOffset); err != nil {
			return next, nil, err
		}
		nextCN, cn, err := p.parseChannel(cnOffset)
		if err != nil {
			return next, nil, err
		}
		if err := p.expandComposition(cg, cn, walker); err != nil {
			return next, nil, err
		}
		cnOffset = nextCN
	}
	return next, cg, nil
}

// expandComposition appends cn to the group, then expands its composition
// link: a CN composition contributes nested channels, a one-dimensional CA
// template contributes per-element copies. Deeper array nesting is
// unsupported and fails the data group.
func (p *v4Parser) expandComposition(cg *ChannelGroup, cn *Channel, walker *linkWalker) error {
	if cn.Composition == 0 {
		cg.Channels = append(cg.Channels, *cn)
		return nil
	}
	h, err := core.ReadBlockHeaderV4(p.r, cn.Composition)
	if err != nil {
		return err
	}
	switch h.ID {
	case "##CN":
		cg.Channels = append(cg.Channels, *cn)
		for nested := cn.Composition; nested != 0; {
			if err := walker.visit(nested); err != nil {
				return err
			}
			next, sub, err := p.parseChannel(nested)
			if err != nil {
				return err
			}
			cg.Channels = append(cg.Channels, *sub)
			nested = next
		}
		return nil
	case "##CA":
		elems, err := p.expandArray(cn, h)
		if err != nil {
			return err
		}
		cg.Channels = append(cg.Channels, elems...)
		return nil
	default:
		return utils.WrapError(
			fmt.Sprintf("composition block %q", h.ID), utils.ErrUnsupportedBlockType)
	}
}

// expandArray turns a one-dimensional fixed-size CA template into one
// channel per element.
func (p *v4Parser) expandArray(cn *Channel, h core.BlockHeaderV4) ([]Channel, error) {
	dataAt := cn.Composition + core.BlockHeaderV4Size + int64(h.LinkCount)*8
	buf, err := utils.ReadBytes(p.r, dataAt, 16+8)
	if err != nil {
		return nil, utils.WrapError("channel array body", utils.ErrTruncatedBlock)
	}
	caType := buf[0]
	storage := buf[1]
	ndim := binary.LittleEndian.Uint16(buf[2:4])
	stride := int32(binary.LittleEndian.Uint32(buf[8:12]))
	if caType != 0 || storage != 0 || ndim != 1 {
		return nil, utils.WrapError(
			fmt.Sprintf("channel array type %d storage %d ndim %d", caType, storage, ndim),
			utils.ErrUnsupportedBlockType)
	}
	dimSize := binary.LittleEndian.Uint64(buf[16:24])
	if stride == 0 {
		stride = int32(cn.BitCount / 8)
	}

	elems := make([]Channel, 0, dimSize)
	for i := uint64(0); i < dimSize; i++ {
		elem := *cn
		elem.Name = fmt.Sprintf("%s[%d]", cn.Name, i)
		elem.ByteOffset = uint32(int64(cn.ByteOffset) + int64(i)*int64(stride))
		elem.Composition = 0
		elems = append(elems, elem)
	}
	return elems, nil
}

func (p *v4Parser) parseChannel(offset int64) (next int64, cn *Channel, err error) {
	h, err := core.ReadBlockHeaderV4(p.r, offset)
	if err != nil {
		return 0, nil, err
	}
	if h.ID != "##CN" {
		return 0, nil, utils.WrapError(
			fmt.Sprintf("expected ##CN, found %q", h.ID), utils.ErrUnknownBlockType)
	}
	links, err := core.ReadLinksV4(p.r, offset, h.LinkCount)
	if err != nil || len(links) < 8 {
		return 0, nil, utils.WrapError("channel links", utils.ErrTruncatedBlock)
	}
	next = int64(links[0])

	// The data section is the trailing 72 bytes of the block.
	buf, err := utils.ReadBytes(p.r, offset+int64(h.Length)-v4CNDataSize, v4CNDataSize)
	if err != nil {
		return 0, nil, utils.WrapError("channel body", utils.ErrTruncatedBlock)
	}

	cn = &Channel{
		Type:        buf[0],
		SyncType:    buf[1],
		DataType:    buf[2],
		BitOffset:   buf[3],
		ByteOffset:  binary.LittleEndian.Uint32(buf[4:8]),
		BitCount:    binary.LittleEndian.Uint32(buf[8:12]),
		Flags:       binary.LittleEndian.Uint32(buf[12:16]),
		InvalBitPos: binary.LittleEndian.Uint32(buf[16:20]),
		Precision:   buf[20],
		Composition: int64(links[1]),
		DataLink:    int64(links[5]),
	}

	if links[2] != 0 {
		if name, err := p.readTextOrXML(int64(links[2])); err == nil {
			cn.Name = name
		}
	}
	if links[3] != 0 {
		cn.Source, _ = p.parseSourceInfo(int64(links[3]))
	}
	cn.Conversion, err = p.parseConversion(int64(links[4]), 0)
	if err != nil {
		return 0, nil, err
	}
	if links[6] != 0 {
		if unit, err := p.readTextOrXML(int64(links[6])); err == nil {
			cn.Unit = unit
		}
	}
	if cn.Unit == "" {
		cn.Unit = cn.Conversion.Unit
	}
	if links[7] != 0 {
		if desc, err := p.readTextOrXML(int64(links[7])); err == nil {
			cn.Description = desc
		}
	}
	return next, cn, nil
}

func (p *v4Parser) parseSourceInfo(offset int64) (*SourceInfo, error) {
	h, err := core.ReadBlockHeaderV4(p.r, offset)
	if err != nil {
		return nil, err
	}
	if h.ID != "##SI" {
		return nil, utils.WrapError(
			fmt.Sprintf("expected ##SI, found %q", h.ID), utils.ErrUnknownBlockType)
	}
	links, err := core.ReadLinksV4(p.r, offset, h.LinkCount)
	if err != nil || len(links) < 3 {
		return nil, utils.WrapError("source info links", utils.ErrTruncatedBlock)
	}
	buf, err := utils.ReadBytes(p.r, offset+core.BlockHeaderV4Size+int64(h.LinkCount)*8, 2)
	if err != nil {
		return nil, utils.WrapError("source info body", utils.ErrTruncatedBlock)
	}
	si := &SourceInfo{Type: buf[0], BusType: buf[1]}
	if links[0] != 0 {
		si.Name, _ = p.readTextOrXML(int64(links[0]))
	}
	if links[1] != 0 {
		si.Path, _ = p.readTextOrXML(int64(links[1]))
	}
	return si, nil
}

func (p *v4Parser) parseFileHistory(g *Graph, first int64) {
	walker := newLinkWalker()
	for offset := first; offset != 0; {
		if err := walker.visit(offset); err != nil {
			g.Problems = append(g.Problems, err)
			return
		}
		h, err := core.ReadBlockHeaderV4(p.r, offset)
		if err != nil || h.ID != "##FH" {
			g.Problems = append(g.Problems, utils.WrapError("file history dropped", utils.ErrUnknownBlockType))
			return
		}
		links, err := core.ReadLinksV4(p.r, offset, h.LinkCount)
		if err != nil || len(links) < 2 {
			g.Problems = append(g.Problems, utils.WrapError("file history links", utils.ErrTruncatedBlock))
			return
		}
		fh := FileHistory{}
		dataAt := offset + core.BlockHeaderV4Size + int64(h.LinkCount)*8
		if ts, err := utils.ReadUint64(p.r, dataAt, binary.LittleEndian); err == nil {
			fh.TimeNS = ts
		}
		if links[1] != 0 {
			if text, err := p.readTextOrXML(int64(links[1])); err == nil {
				fillFileHistoryComment(&fh, text)
			}
		}
		g.FileHistory = append(g.FileHistory, fh)
		offset = int64(links[0])
	}
}

func (p *v4Parser) parseAttachments(g *Graph, first int64) {
	walker := newLinkWalker()
	for offset := first; offset != 0; {
		if err := walker.visit(offset); err != nil {
			g.Problems = append(g.Problems, err)
			return
		}
		h, err := core.ReadBlockHeaderV4(p.r, offset)
		if err != nil || h.ID != "##AT" {
			g.Problems = append(g.Problems, utils.WrapError("attachment dropped", utils.ErrUnknownBlockType))
			return
		}
		links, err := core.ReadLinksV4(p.r, offset, h.LinkCount)
		if err != nil || len(links) < 4 {
			g.Problems = append(g.Problems, utils.WrapError("attachment links", utils.ErrTruncatedBlock))
			return
		}
		dataAt := offset + core.BlockHeaderV4Size + int64(h.LinkCount)*8
		buf, err := utils.ReadBytes(p.r, dataAt, 40)
		if err != nil {
			g.Problems = append(g.Problems, utils.WrapError("attachment body", utils.ErrTruncatedBlock))
			return
		}
		at := Attachment{
			Flags:        binary.LittleEndian.Uint16(buf[0:2]),
			CreatorIndex: binary.LittleEndian.Uint16(buf[2:4]),
			OriginalSize: binary.LittleEndian.Uint64(buf[24:32]),
		}
		copy(at.MD5[:], buf[8:24])
		embeddedSize := binary.LittleEndian.Uint64(buf[32:40])
		if links[1] != 0 {
			at.FileName, _ = p.readTextOrXML(int64(links[1]))
		}
		if links[2] != 0 {
			at.MimeType, _ = p.readTextOrXML(int64(links[2]))
		}
		if links[3] != 0 {
			at.Comment, _ = p.readTextOrXML(int64(links[3]))
		}
		// Flag bit 0: payload embedded after the fixed fields.
		if at.Flags&0x1 != 0 && embeddedSize > 0 && embeddedSize <= utils.MaxDataBlockSize {
			if data, err := utils.ReadBytes(p.r, dataAt+40, int(embeddedSize)); err == nil {
				at.Embedded = data
			}
		}
		g.Attachments = append(g.Attachments, at)
		offset = int64(links[0])
	}
}

func (p *v4Parser) parseEvents(g *Graph, first int64) {
	walker := newLinkWalker()
	for offset := first; offset != 0; {
		if err := walker.visit(offset); err != nil {
			g.Problems = append(g.Problems, err)
			return
		}
		h, err := core.ReadBlockHeaderV4(p.r, offset)
		if err != nil || h.ID != "##EV" {
			g.Problems = append(g.Problems, utils.WrapError("event dropped", utils.ErrUnknownBlockType))
			return
		}
		links, err := core.ReadLinksV4(p.r, offset, h.LinkCount)
		if err != nil || len(links) < 5 {
			g.Problems = append(g.Problems, utils.WrapError("event links", utils.ErrTruncatedBlock))
			return
		}
		dataAt := offset + core.BlockHeaderV4Size + int64(h.LinkCount)*8
		buf, err := utils.ReadBytes(p.r, dataAt, 4)
		if err != nil {
			g.Problems = append(g.Problems, utils.WrapError("event body", utils.ErrTruncatedBlock))
			return
		}
		ev := Event{Type: buf[0], SyncType: buf[1], RangeType: buf[2], Cause: buf[3]}
		if links[3] != 0 {
			ev.Name, _ = p.readTextOrXML(int64(links[3]))
		}
		g.Events = append(g.Events, ev)
		offset = int64(links[0])
	}
}

// readTextOrXML resolves a comment/name link: ##TX yields the text as-is,
// ##MD yields the raw XML fragment (callers extract fields as needed).
func (p *v4Parser) readTextOrXML(offset int64) (string, error) {
	h, err := core.ReadBlockHeaderV4(p.r, offset)
	if err != nil {
		return "", err
	}
	if h.ID != "##TX" && h.ID != "##MD" {
		return "", utils.WrapError(
			fmt.Sprintf("expected ##TX or ##MD, found %q", h.ID), utils.ErrUnknownBlockType)
	}
	size := int64(h.Length) - core.BlockHeaderV4Size
	if size <= 0 {
		return "", nil
	}
	if err := utils.ValidateBufferSize(uint64(size), utils.MaxTextSize, "text block"); err != nil {
		return "", err
	}
	buf, err := utils.ReadBytes(p.r, offset+core.BlockHeaderV4Size, int(size))
	if err != nil {
		return "", utils.WrapError("text block", utils.ErrTruncatedBlock)
	}
	return core.DecodeText(buf, core.UTF8), nil
}

// parseConversion decodes a v4 CC block. depth limits nested reference
// conversions (types 7..10 may embed scaling conversions in cc_ref).
func (p *v4Parser) parseConversion(offset int64, depth int) (*convert.Conversion, error) {
	if offset == 0 {
		return &convert.Conversion{Kind: convert.Identity}, nil
	}
	if depth > 1 {
		return nil, utils.WrapError("conversion nesting too deep", utils.ErrUnsupportedBlockType)
	}
	h, err := core.ReadBlockHeaderV4(p.r, offset)
	if err != nil {
		return nil, err
	}
	if h.ID != "##CC" {
		return nil, utils.WrapError(
			fmt.Sprintf("expected ##CC, found %q", h.ID), utils.ErrUnknownBlockType)
	}
	links, err := core.ReadLinksV4(p.r, offset, h.LinkCount)
	if err != nil || len(links) < 4 {
		return nil, utils.WrapError("conversion links", utils.ErrTruncatedBlock)
	}
	refs := links[4:]

	dataAt := offset + core.BlockHeaderV4Size + int64(h.LinkCount)*8
	buf, err := utils.ReadBytes(p.r, dataAt, v4CCDataFixed)
	if err != nil {
		return nil, utils.WrapError("conversion body", utils.ErrTruncatedBlock)
	}
	ccType := buf[0]
	valCount := int(binary.LittleEndian.Uint16(buf[6:8]))

	vals, err := p.readDoublesV4(dataAt+v4CCDataFixed, valCount)
	if err != nil {
		return nil, err
	}

	c := &convert.Conversion{}
	if links[1] != 0 {
		c.Unit, _ = p.readTextOrXML(int64(links[1]))
	}

	switch ccType {
	case 0:
		c.Kind = convert.Identity
	case 1:
		c.Kind = convert.Linear
		c.Params = vals // offset, factor
	case 2:
		c.Kind = convert.Rational
		c.Params = vals
	case 3:
		c.Kind = convert.Algebraic
		if len(refs) > 0 && refs[0] != 0 {
			c.Formula, _ = p.readTextOrXML(int64(refs[0]))
			c.Formula = formulaFromComment(c.Formula)
		}
	case 4, 5:
		if ccType == 4 {
			c.Kind = convert.TableInterp
		} else {
			c.Kind = convert.Table
		}
		n := len(vals) / 2
		c.Keys = make([]float64, n)
		c.Values = make([]float64, n)
		for i := 0; i < n; i++ {
			c.Keys[i] = vals[2*i]
			c.Values[i] = vals[2*i+1]
		}
	case 6:
		c.Kind = convert.RangeToValue
		n := len(vals) / 3
		c.KeyMin = make([]float64, n)
		c.KeyMax = make([]float64, n)
		c.Values = make([]float64, n)
		for i := 0; i < n; i++ {
			c.KeyMin[i] = vals[3*i]
			c.KeyMax[i] = vals[3*i+1]
			c.Values[i] = vals[3*i+2]
		}
		// Out-of-range samples take the first triple's value.
		if n > 0 {
			c.DefaultFloat = c.Values[0]
			c.HasDefaultFloat = true
		}
	case 7:
		c.Kind = convert.ValueToText
		c.Keys = vals
		err = p.resolveTextRefs(c, refs, len(vals), depth)
	case 8:
		c.Kind = convert.RangeToText
		c.InclusiveRanges = true
		n := len(vals) / 2
		c.KeyMin = make([]float64, n)
		c.KeyMax = make([]float64, n)
		for i := 0; i < n; i++ {
			c.KeyMin[i] = vals[2*i]
			c.KeyMax[i] = vals[2*i+1]
		}
		err = p.resolveTextRefs(c, refs, n, depth)
	case 9:
		c.Kind = convert.TextToValue
		// One value per text reference plus a trailing default.
		if len(vals) > 0 {
			c.Values = vals[:len(vals)-1]
			c.DefaultFloat = vals[len(vals)-1]
			c.HasDefaultFloat = true
		}
		c.TextKeys = make([]string, len(refs))
		for i, ref := range refs {
			if ref != 0 {
				c.TextKeys[i], _ = p.readTextOrXML(int64(ref))
			}
		}
	case 10:
		c.Kind = convert.TextToText
		err = p.resolveTextPairs(c, refs)
	default:
		// Unrecognized conversion types leave the channel raw instead of
		// failing the subtree; the unit still applies.
		c.Kind = convert.Identity
		p.problems = append(p.problems, utils.WrapError(
			fmt.Sprintf("conversion type %d at %d left raw", ccType, offset),
			utils.ErrUnsupportedBlockType))
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *v4Parser) readDoublesV4(offset int64, count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}
	buf, err := utils.ReadBytes(p.r, offset, count*8)
	if err != nil {
		return nil, utils.WrapError("conversion values", utils.ErrTruncatedBlock)
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = utils.Float64At(buf, i*8, binary.LittleEndian)
	}
	return out, nil
}

// resolveTextRefs fills Texts from n reference links; the reference after
// them, when present, is the default and may itself be a nested conversion.
func (p *v4Parser) resolveTextRefs(c *convert.Conversion, refs []uint64, n int, depth int) error {
	if len(refs) < n {
		return utils.WrapError("conversion reference list too short", utils.ErrTruncatedBlock)
	}
	c.Texts = make([]string, n)
	for i := 0; i < n; i++ {
		if refs[i] == 0 {
			continue
		}
		text, nested, err := p.resolveRef(int64(refs[i]), depth)
		if err != nil {
			return err
		}
		if nested != nil {
			// A nested conversion inside the table proper has no textual
			// rendering; the slot stays empty.
			continue
		}
		c.Texts[i] = text
	}
	if len(refs) > n && refs[n] != 0 {
		text, nested, err := p.resolveRef(int64(refs[n]), depth)
		if err != nil {
			return err
		}
		if nested != nil {
			c.NestedDefault = nested
		} else {
			c.DefaultText = text
		}
	}
	return nil
}

func (p *v4Parser) resolveTextPairs(c *convert.Conversion, refs []uint64) error {
	n := (len(refs) - 1) / 2
	c.TextKeys = make([]string, 0, n)
	c.Texts = make([]string, 0, n)
	for i := 0; i+1 < len(refs)-1; i += 2 {
		var key, val string
		if refs[i] != 0 {
			key, _ = p.readTextOrXML(int64(refs[i]))
		}
		if refs[i+1] != 0 {
			val, _ = p.readTextOrXML(int64(refs[i+1]))
		}
		c.TextKeys = append(c.TextKeys, key)
		c.Texts = append(c.Texts, val)
	}
	if len(refs)%2 == 1 && refs[len(refs)-1] != 0 {
		c.DefaultText, _ = p.readTextOrXML(int64(refs[len(refs)-1]))
	}
	return nil
}

// resolveRef reads one cc_ref target: text blocks yield a string, nested
// CC blocks yield a conversion.
func (p *v4Parser) resolveRef(offset int64, depth int) (string, *convert.Conversion, error) {
	h, err := core.ReadBlockHeaderV4(p.r, offset)
	if err != nil {
		return "", nil, err
	}
	if h.ID == "##CC" {
		nested, err := p.parseConversion(offset, depth+1)
		if err != nil {
			return "", nil, err
		}
		return "", nested, nil
	}
	text, err := p.readTextOrXML(offset)
	return text, nil, err
}
