package structures

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/mdf/internal/convert"
	"github.com/scigolib/mdf/internal/core"
	"github.com/scigolib/mdf/internal/utils"
)

// v3 fixed block sizes and offsets.
const (
	v3HeaderOffset  = 64
	v3HDSizeShort   = 164 // below format 3.20
	v3HDSizeLong    = 208
	v3DGSize        = 24
	v3CGSize        = 26
	v3CNSize        = 228
	v3CCFixedSize   = 46
	v3FormulaLength = 256
)

// v3Parser carries the per-file state a v3 parse needs.
type v3Parser struct {
	r       utils.ReaderAt
	order   binary.ByteOrder
	version uint16

	// problems collects non-fatal findings (unsupported conversion types)
	// surfaced via Graph.Problems.
	problems []error
}

// ParseV3 materializes the block graph of a v3 file. Subtree failures are
// collected into Graph.Problems; only a broken header aborts the parse.
func ParseV3(r utils.ReaderAt, id *core.Identification) (*Graph, error) {
	p := &v3Parser{r: r, order: id.ByteOrder, version: id.Version}

	g := &Graph{
		Dialect:   core.DialectV3,
		Version:   id.Version,
		ByteOrder: id.ByteOrder,
	}

	firstDG, err := p.parseHeader(g)
	if err != nil {
		return nil, utils.WrapError("header block parse failed", err)
	}

	walker := newLinkWalker()
	for offset := firstDG; offset != 0; {
		if err := walker.visit(offset); err != nil {
			g.Problems = append(g.Problems, err)
			break
		}
		next, dg, err := p.parseDataGroup(offset, len(g.DataGroups))
		if err != nil {
			// Partial failure: drop this data group, keep walking only if
			// the next link was readable.
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

func (p *v3Parser) link(offset int64) (int64, error) {
	return core.ReadLinkV3(p.r, offset, p.order, p.version)
}

func (p *v3Parser) parseHeader(g *Graph) (firstDG int64, err error) {
	tag, _, err := core.ReadBlockHeaderV3(p.r, v3HeaderOffset, p.order)
	if err != nil {
		return 0, err
	}
	if tag != "HD" {
		return 0, utils.WrapError(fmt.Sprintf("expected HD, found %q", tag), utils.ErrUnknownBlockType)
	}

	size := v3HDSizeShort
	if p.version >= 320 {
		size = v3HDSizeLong
	}
	buf, err := utils.ReadBytes(p.r, v3HeaderOffset, size)
	if err != nil {
		return 0, utils.WrapError("header block", utils.ErrTruncatedBlock)
	}

	firstDG = p.linkFromBuf(buf, 4)
	commentTX := p.linkFromBuf(buf, 8)
	programPR := p.linkFromBuf(buf, 12)

	g.Header = Header{
		Date:         core.DecodeText(buf[18:28], core.Latin1),
		Time:         core.DecodeText(buf[28:36], core.Latin1),
		Author:       core.DecodeText(buf[36:68], core.Latin1),
		Organisation: core.DecodeText(buf[68:100], core.Latin1),
		Project:      core.DecodeText(buf[100:132], core.Latin1),
		Subject:      core.DecodeText(buf[132:164], core.Latin1),
	}
	if p.version >= 320 {
		g.Header.StartTimeNS = p.order.Uint64(buf[164:172])
	}
	if commentTX != 0 {
		if comment, err := p.readText(commentTX); err == nil {
			g.Header.Comment = comment
		}
	}
	if programPR != 0 {
		if prog, err := p.readText(programPR); err == nil {
			g.Header.Program = prog
		}
	}
	return firstDG, nil
}

func (p *v3Parser) linkFromBuf(buf []byte, off int) int64 {
	v := p.order.Uint32(buf[off : off+4])
	if p.version < 320 {
		return int64(int32(v))
	}
	return int64(v)
}

// parseDataGroup returns the next-DG link even on failure so the caller can
// continue the sibling walk.
func (p *v3Parser) parseDataGroup(offset int64, index int) (next int64, dg *DataGroup, err error) {
	buf, err := utils.ReadBytes(p.r, offset, v3DGSize)
	if err != nil {
		return 0, nil, utils.WrapError("data group block", utils.ErrTruncatedBlock)
	}
	if string(buf[:2]) != "DG" {
		return 0, nil, utils.WrapError(
			fmt.Sprintf("expected DG, found %q", buf[:2]), utils.ErrUnknownBlockType)
	}

	next = p.linkFromBuf(buf, 4)
	firstCG := p.linkFromBuf(buf, 8)
	triggerTR := p.linkFromBuf(buf, 12)
	dataPtr := p.linkFromBuf(buf, 16)
	numRecordIDs := p.order.Uint16(buf[22:24])

	dg = &DataGroup{
		Index:        index,
		RecordIDSize: uint8(numRecordIDs),
		DataOffset:   dataPtr,
	}
	if triggerTR != 0 {
		// A broken trigger only loses the trigger, not the group.
		dg.Trigger, _ = p.parseTrigger(triggerTR)
	}

	walker := newLinkWalker()
	for cgOffset := firstCG; cgOffset != 0; {
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

// parseTrigger reads a TR block: comment link, event count, then one
// time/pre/post double triple per event.
func (p *v3Parser) parseTrigger(offset int64) (*Trigger, error) {
	tag, size, err := core.ReadBlockHeaderV3(p.r, offset, p.order)
	if err != nil {
		return nil, err
	}
	if tag != "TR" {
		return nil, utils.WrapError(
			fmt.Sprintf("expected TR, found %q", tag), utils.ErrUnknownBlockType)
	}

	buf, err := utils.ReadBytes(p.r, offset, int(size))
	if err != nil {
		return nil, utils.WrapError("trigger block", utils.ErrTruncatedBlock)
	}

	tr := &Trigger{}
	if commentTX := p.linkFromBuf(buf, 4); commentTX != 0 {
		if comment, err := p.readText(commentTX); err == nil {
			tr.Comment = comment
		}
	}

	n := int(p.order.Uint16(buf[8:10]))
	for i := 0; i < n; i++ {
		at := 10 + i*24
		if at+24 > len(buf) {
			break
		}
		tr.Events = append(tr.Events, TriggerEvent{
			Time:     utils.Float64At(buf, at, p.order),
			PreTime:  utils.Float64At(buf, at+8, p.order),
			PostTime: utils.Float64At(buf, at+16, p.order),
		})
	}
	return tr, nil
}

func (p *v3Parser) parseChannelGroup(offset int64) (next int64, cg *ChannelGroup, err error) {
	buf, err := utils.ReadBytes(p.r, offset, v3CGSize)
	if err != nil {
		return 0, nil, utils.WrapError("channel group block", utils.ErrTruncatedBlock)
	}
	if string(buf[:2]) != "CG" {
		return 0, nil, utils.WrapError(
			fmt.Sprintf("expected CG, found %q", buf[:2]), utils.ErrUnknownBlockType)
	}

	next = p.linkFromBuf(buf, 4)
	firstCN := p.linkFromBuf(buf, 8)
	commentTX := p.linkFromBuf(buf, 12)

	cg = &ChannelGroup{
		BlockOffset: offset,
		RecordID:    uint64(p.order.Uint16(buf[16:18])),
		DataBytes:   uint32(p.order.Uint16(buf[20:22])),
		CycleCount:  uint64(p.order.Uint32(buf[22:26])),
	}
	if commentTX != 0 {
		if comment, err := p.readText(commentTX); err == nil {
			cg.Comment = comment
		}
	}

	walker := newLinkWalker()
	for cnOffset := firstCN; cnOffset != 0; {
		if err := walker.visit(cnOffset); err != nil {
			return 0, nil, err
		}
		nextCN, cn, err := p.parseChannel(cnOffset)
		if err != nil {
			return 0, nil, err
		}
		cg.Channels = append(cg.Channels, *cn)
		cnOffset = nextCN
	}

	sortChannelsByBitStart(cg.Channels)
	return next, cg, nil
}

// sortChannelsByBitStart orders channels by their first bit within the
// record, the order the layout compiler iterates in.
func sortChannelsByBitStart(chans []Channel) {
	for i := 1; i < len(chans); i++ {
		for j := i; j > 0 && chans[j].BitStart < chans[j-1].BitStart; j-- {
			chans[j], chans[j-1] = chans[j-1], chans[j]
		}
	}
}

func (p *v3Parser) parseChannel(offset int64) (next int64, cn *Channel, err error) {
	buf, err := utils.ReadBytes(p.r, offset, v3CNSize)
	if err != nil {
		return 0, nil, utils.WrapError("channel block", utils.ErrTruncatedBlock)
	}
	if string(buf[:2]) != "CN" {
		return 0, nil, utils.WrapError(
			fmt.Sprintf("expected CN, found %q", buf[:2]), utils.ErrUnknownBlockType)
	}

	next = p.linkFromBuf(buf, 4)
	ccPtr := p.linkFromBuf(buf, 8)
	cePtr := p.linkFromBuf(buf, 12)
	longNameTX := p.linkFromBuf(buf, 218)

	bitStart := uint32(p.order.Uint16(buf[186:188]))
	// The additional byte offset extends the 16-bit first-bit field for
	// records longer than 8KB.
	extraByteOffset := p.order.Uint16(buf[226:228])
	bitStart += uint32(extraByteOffset) * 8

	cn = &Channel{
		Name:        core.DecodeText(buf[26:58], core.Latin1),
		Description: core.DecodeText(buf[58:186], core.Latin1),
		Type:        uint8(p.order.Uint16(buf[24:26])),
		BitStart:    bitStart,
		ByteOffset:  bitStart / 8,
		BitOffset:   uint8(bitStart % 8),
		BitCount:    uint32(p.order.Uint16(buf[188:190])),
		DataType:    uint8(p.order.Uint16(buf[190:192])),
	}

	// Long channel names supersede the fixed 32-byte field.
	if longNameTX != 0 {
		if name, err := p.readText(longNameTX); err == nil && name != "" {
			cn.Name = name
		}
	}

	if cePtr != 0 {
		// A broken extension block only loses the source description.
		cn.Source, _ = p.parseSource(cePtr)
	}

	cn.Conversion, err = p.parseConversion(ccPtr)
	if err != nil {
		return 0, nil, err
	}
	cn.Unit = cn.Conversion.Unit
	return next, cn, nil
}

// parseSource decodes a CE channel-extension block. Type 2 describes a DIM
// module, type 19 a CAN message; other extension types are skipped.
func (p *v3Parser) parseSource(offset int64) (*SourceInfo, error) {
	tag, size, err := core.ReadBlockHeaderV3(p.r, offset, p.order)
	if err != nil {
		return nil, err
	}
	if tag != "CE" {
		return nil, utils.WrapError(
			fmt.Sprintf("expected CE, found %q", tag), utils.ErrUnknownBlockType)
	}
	buf, err := utils.ReadBytes(p.r, offset, int(size))
	if err != nil {
		return nil, utils.WrapError("extension block", utils.ErrTruncatedBlock)
	}

	extType := p.order.Uint16(buf[4:6])
	switch {
	case extType == 2 && len(buf) >= 124:
		return &SourceInfo{
			Type: uint8(extType),
			Name: core.DecodeText(buf[92:124], core.Latin1), // ECU id
			Path: core.DecodeText(buf[12:92], core.Latin1),  // module description
		}, nil
	case extType == 19 && len(buf) >= 86:
		return &SourceInfo{
			Type:    uint8(extType),
			BusType: 2, // CAN
			Name:    core.DecodeText(buf[14:50], core.Latin1), // message
			Path:    core.DecodeText(buf[50:86], core.Latin1), // sender
		}, nil
	}
	return nil, utils.WrapError(
		fmt.Sprintf("extension type %d", extType), utils.ErrUnsupportedBlockType)
}

func (p *v3Parser) readText(offset int64) (string, error) {
	tag, size, err := core.ReadBlockHeaderV3(p.r, offset, p.order)
	if err != nil {
		return "", err
	}
	if tag != "TX" && tag != "PR" {
		return "", utils.WrapError(
			fmt.Sprintf("expected TX, found %q", tag), utils.ErrUnknownBlockType)
	}
	if size <= 4 {
		return "", nil
	}
	if err := utils.ValidateBufferSize(uint64(size), utils.MaxTextSize, "text block"); err != nil {
		return "", err
	}
	buf, err := utils.ReadBytes(p.r, offset+4, int(size)-4)
	if err != nil {
		return "", utils.WrapError("text block", utils.ErrTruncatedBlock)
	}
	return core.DecodeText(buf, core.Latin1), nil
}

// parseConversion decodes a CC block into the tagged conversion union.
// Pointer 0 yields the identity conversion.
func (p *v3Parser) parseConversion(offset int64) (*convert.Conversion, error) {
	if offset == 0 {
		return &convert.Conversion{Kind: convert.Identity}, nil
	}
	buf, err := utils.ReadBytes(p.r, offset, v3CCFixedSize)
	if err != nil {
		return nil, utils.WrapError("conversion block", utils.ErrTruncatedBlock)
	}
	if string(buf[:2]) != "CC" {
		return nil, utils.WrapError(
			fmt.Sprintf("expected CC, found %q", buf[:2]), utils.ErrUnknownBlockType)
	}

	ccType := p.order.Uint16(buf[42:44])
	pairCount := int(p.order.Uint16(buf[44:46]))
	c := &convert.Conversion{
		Unit: core.DecodeText(buf[22:42], core.Latin1),
	}
	paramsAt := offset + v3CCFixedSize

	switch ccType {
	case 0:
		c.Kind = convert.Linear
		c.Params, err = p.readDoubles(paramsAt, 2)
	case 1, 2:
		if ccType == 1 {
			c.Kind = convert.TableInterp
		} else {
			c.Kind = convert.Table
		}
		var pairs []float64
		pairs, err = p.readDoubles(paramsAt, 2*pairCount)
		if err == nil {
			c.Keys = make([]float64, pairCount)
			c.Values = make([]float64, pairCount)
			for i := 0; i < pairCount; i++ {
				c.Keys[i] = pairs[2*i]
				c.Values[i] = pairs[2*i+1]
			}
		}
	case 6:
		c.Kind = convert.Polynomial
		c.Params, err = p.readDoubles(paramsAt, 6)
	case 7:
		c.Kind = convert.Exponential
		c.Params, err = p.readDoubles(paramsAt, 7)
	case 8:
		c.Kind = convert.Logarithmic
		c.Params, err = p.readDoubles(paramsAt, 7)
	case 9:
		c.Kind = convert.Rational
		c.Params, err = p.readDoubles(paramsAt, 6)
	case 10:
		c.Kind = convert.Algebraic
		var text []byte
		text, err = utils.ReadBytes(p.r, paramsAt, v3FormulaLength)
		if err == nil {
			c.Formula = core.DecodeText(text, core.Latin1)
		}
	case 11:
		c.Kind = convert.ValueToText
		err = p.readTextTable(paramsAt, pairCount, c)
	case 12:
		c.Kind = convert.RangeToText
		c.InclusiveRanges = true
		err = p.readTextRangeTable(paramsAt, pairCount, c)
	case 65535:
		c.Kind = convert.Identity
	default:
		// Unrecognized conversion types leave the channel raw instead of
		// failing the subtree; the unit still applies.
		c.Kind = convert.Identity
		p.problems = append(p.problems, utils.WrapError(
			fmt.Sprintf("conversion type %d at %d left raw", ccType, offset),
			utils.ErrUnsupportedBlockType))
	}
	if err != nil {
		return nil, utils.WrapError("conversion parameters", err)
	}
	return c, nil
}

func (p *v3Parser) readDoubles(offset int64, count int) ([]float64, error) {
	buf, err := utils.ReadBytes(p.r, offset, count*8)
	if err != nil {
		return nil, utils.ErrTruncatedBlock
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = utils.Float64At(buf, i*8, p.order)
	}
	return out, nil
}

// readTextTable reads (double, 32-byte text) pairs.
func (p *v3Parser) readTextTable(offset int64, pairCount int, c *convert.Conversion) error {
	buf, err := utils.ReadBytes(p.r, offset, pairCount*40)
	if err != nil {
		return utils.ErrTruncatedBlock
	}
	c.Keys = make([]float64, pairCount)
	c.Texts = make([]string, pairCount)
	for i := 0; i < pairCount; i++ {
		c.Keys[i] = utils.Float64At(buf, i*40, p.order)
		c.Texts[i] = core.DecodeText(buf[i*40+8:i*40+40], core.Latin1)
	}
	return nil
}

// readTextRangeTable reads (lower, upper, text-pointer) entries. The first
// entry is the out-of-range default; matching starts at entry 1.
func (p *v3Parser) readTextRangeTable(offset int64, pairCount int, c *convert.Conversion) error {
	if pairCount == 0 {
		return nil
	}
	buf, err := utils.ReadBytes(p.r, offset, pairCount*20)
	if err != nil {
		return utils.ErrTruncatedBlock
	}
	texts := make([]string, pairCount)
	for i := 0; i < pairCount; i++ {
		txPtr := p.linkFromBuf(buf, i*20+16)
		if txPtr != 0 {
			if s, err := p.readText(txPtr); err == nil {
				texts[i] = s
			}
		}
	}
	c.DefaultText = texts[0]
	c.KeyMin = make([]float64, 0, pairCount-1)
	c.KeyMax = make([]float64, 0, pairCount-1)
	c.Texts = make([]string, 0, pairCount-1)
	for i := 1; i < pairCount; i++ {
		c.KeyMin = append(c.KeyMin, utils.Float64At(buf, i*20, p.order))
		c.KeyMax = append(c.KeyMax, utils.Float64At(buf, i*20+8, p.order))
		c.Texts = append(c.Texts, texts[i])
	}
	return nil
}
