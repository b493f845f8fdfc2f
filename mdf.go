// Package mdf provides a pure Go reader for MDF measurement files
// (dialects v3 and v4) and a writer for the v3 binary layout. Files are
// decoded into named, typed channels with physical units; non-fatal
// problems are collected as diagnostics instead of failing the read.
package mdf

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scigolib/mdf/internal/core"
	"github.com/scigolib/mdf/internal/decode"
	"github.com/scigolib/mdf/internal/structures"
	"github.com/scigolib/mdf/internal/utils"
)

// File is a fully parsed measurement file. All channel data is decoded at
// open time; no file handle is retained afterwards.
type File struct {
	graph    *structures.Graph
	opts     ReadOptions
	channels map[string]*Channel
	order    []string
	masters  map[string][]string
	diags    []Diagnostic
}

// Open reads and decodes the measurement file at path. The handle is
// closed before Open returns. A nil opts selects the defaults.
func Open(path string, opts *ReadOptions) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.WrapError("file open failed", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, utils.WrapError("file stat failed", err)
	}
	return OpenReader(f, fi.Size(), opts)
}

// OpenReader decodes a measurement file from a caller-provided reader.
// The reader must stay valid for the duration of the call only; it is
// never closed.
func OpenReader(r io.ReaderAt, size int64, opts *ReadOptions) (*File, error) {
	o := DefaultReadOptions()
	if opts != nil {
		o = *opts
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = runtime.GOMAXPROCS(0)
	}

	id, err := core.ReadIdentification(r)
	if err != nil {
		return nil, err
	}

	var g *structures.Graph
	switch id.Dialect {
	case core.DialectV3:
		g, err = structures.ParseV3(r, id)
	case core.DialectV4:
		g, err = structures.ParseV4(r, id)
	default:
		return nil, fmt.Errorf("unsupported dialect %d", id.Dialect)
	}
	if err != nil {
		return nil, err
	}

	file := &File{
		graph:    g,
		opts:     o,
		channels: map[string]*Channel{},
		masters:  map[string][]string{},
	}
	for _, p := range g.Problems {
		file.diags = append(file.diags, Diagnostic{Scope: ScopeStructure, Err: p})
	}
	if o.Metadata == MetadataMinimal {
		g.Attachments, g.Events, g.FileHistory = nil, nil, nil
	}

	if err := file.decodeAll(r); err != nil {
		return nil, err
	}
	if o.ConvertAfterRead {
		file.ConvertAll()
	}
	return file, nil
}

// decodeAll decodes every data group concurrently. A failed group
// contributes a diagnostic and zero channels; siblings still decode.
func (f *File) decodeAll(r io.ReaderAt) error {
	results := make([][]*decode.GroupRecords, len(f.graph.DataGroups))

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(f.opts.MaxWorkers)

	for i := range f.graph.DataGroups {
		i := i
		eg.Go(func() error {
			recs, err := decode.DecodeDataGroup(r, f.graph, &f.graph.DataGroups[i])
			if err != nil {
				mu.Lock()
				f.diags = append(f.diags, Diagnostic{
					Scope:   ScopeDataGroup,
					Subject: fmt.Sprintf("data group %d", i),
					Err:     err,
				})
				mu.Unlock()
				return nil
			}
			results[i] = recs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, recs := range results {
		for _, gr := range recs {
			f.addGroup(i, gr)
		}
	}
	return nil
}

// addGroup turns one decoded channel group into public channels, applying
// the channel filter and registering the master relationship.
func (f *File) addGroup(dgIndex int, gr *decode.GroupRecords) {
	var masterName string
	if gr.Layout.Master >= 0 {
		masterName = gr.Names[gr.Layout.Master]
	}

	wanted := map[string]bool{}
	for _, name := range f.opts.ChannelList {
		wanted[name] = true
	}

	for i, name := range gr.Names {
		if _, exists := f.channels[name]; exists {
			continue
		}
		// The filter never drops the group's master.
		if len(wanted) > 0 && !wanted[name] && name != masterName {
			continue
		}

		ch := &Channel{
			Name:   name,
			Master: i == gr.Layout.Master,
			data:   gr.Columns[i],
		}
		if i < len(gr.Layout.Fields) {
			fl := &gr.Layout.Fields[i]
			if fl.Ch != nil {
				ch.Unit = fl.Ch.Unit
				ch.Description = fl.Ch.Description
				ch.MasterType = fl.Ch.SyncType
				ch.conv = fl.Ch.Conversion
				if ch.Master && ch.Unit == "" {
					ch.Unit = fl.Ch.MasterUnit()
				}
			}
		}

		f.channels[name] = ch
		f.order = append(f.order, name)
		if masterName != "" && name != masterName {
			f.masters[masterName] = append(f.masters[masterName], name)
		}
	}
	if masterName != "" {
		if _, ok := f.masters[masterName]; !ok {
			f.masters[masterName] = nil
		}
	}

	for _, p := range gr.Layout.Problems {
		f.diags = append(f.diags, Diagnostic{
			Scope:   ScopeDataGroup,
			Subject: fmt.Sprintf("data group %d", dgIndex),
			Err:     p,
		})
	}
}

// Channels lists all channel names in file order.
func (f *File) Channels() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Channel returns the named channel.
func (f *File) Channel(name string) (*Channel, bool) {
	ch, ok := f.channels[name]
	return ch, ok
}

// Masters maps each master channel to the channels synchronized by it.
func (f *File) Masters() map[string][]string {
	out := make(map[string][]string, len(f.masters))
	for k, v := range f.masters {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Diagnostics returns the non-fatal problems collected while reading.
func (f *File) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), f.diags...)
}

// Version returns the numeric format version, e.g. 330 or 410.
func (f *File) Version() uint16 {
	return f.graph.Version
}

// StartTime returns the measurement start, zero when the file carries no
// nanosecond timestamp.
func (f *File) StartTime() time.Time {
	if f.graph.Header.StartTimeNS == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(f.graph.Header.StartTimeNS)).UTC()
}

// Author returns the header author field.
func (f *File) Author() string { return f.graph.Header.Author }

// Organisation returns the header organisation/department field.
func (f *File) Organisation() string { return f.graph.Header.Organisation }

// Project returns the header project field.
func (f *File) Project() string { return f.graph.Header.Project }

// Subject returns the header subject field.
func (f *File) Subject() string { return f.graph.Header.Subject }

// Comment returns the header comment.
func (f *File) Comment() string { return f.graph.Header.Comment }

// Date returns the v3 header date string ("DD:MM:YYYY"), empty for v4.
func (f *File) Date() string { return f.graph.Header.Date }

// Time returns the v3 header time string ("HH:MM:SS"), empty for v4.
func (f *File) Time() string { return f.graph.Header.Time }

// Program returns the v3 program block text, empty for v4.
func (f *File) Program() string { return f.graph.Header.Program }

// Attachment is one embedded or referenced attachment of a v4 file.
type Attachment struct {
	FileName     string
	MimeType     string
	Comment      string
	MD5          [16]byte
	OriginalSize uint64
	Embedded     []byte
}

// Attachments lists the file's attachments (v4 only).
func (f *File) Attachments() []Attachment {
	out := make([]Attachment, len(f.graph.Attachments))
	for i, at := range f.graph.Attachments {
		out[i] = Attachment{
			FileName:     at.FileName,
			MimeType:     at.MimeType,
			Comment:      at.Comment,
			MD5:          at.MD5,
			OriginalSize: at.OriginalSize,
			Embedded:     at.Embedded,
		}
	}
	return out
}

// Event is one v4 event entry.
type Event struct {
	Name string
	Type uint8
}

// Events lists the file's events (v4 only).
func (f *File) Events() []Event {
	out := make([]Event, len(f.graph.Events))
	for i, ev := range f.graph.Events {
		out[i] = Event{Name: ev.Name, Type: ev.Type}
	}
	return out
}

// HistoryEntry is one v4 file-history record.
type HistoryEntry struct {
	Time        time.Time
	ToolID      string
	ToolVendor  string
	ToolVersion string
	UserName    string
	Comment     string
}

// History lists the file-history chain (v4 only).
func (f *File) History() []HistoryEntry {
	out := make([]HistoryEntry, len(f.graph.FileHistory))
	for i, fh := range f.graph.FileHistory {
		out[i] = HistoryEntry{
			ToolID:      fh.ToolID,
			ToolVendor:  fh.ToolVendor,
			ToolVersion: fh.ToolVersion,
			UserName:    fh.UserName,
			Comment:     fh.Comment,
		}
		if fh.TimeNS != 0 {
			out[i].Time = time.Unix(0, int64(fh.TimeNS)).UTC()
		}
	}
	return out
}

// ConvertAll applies every channel's conversion concurrently. Channels
// whose conversion fails keep their raw values and contribute a
// diagnostic.
func (f *File) ConvertAll() {
	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(f.opts.MaxWorkers)

	for _, name := range f.order {
		ch := f.channels[name]
		eg.Go(func() error {
			if err := ch.convert(); err != nil {
				mu.Lock()
				f.diags = append(f.diags, Diagnostic{
					Scope:   ScopeChannel,
					Subject: ch.Name,
					Err:     err,
				})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait() // workers never return errors
}

// ConvertChannel applies one channel's conversion. The channel keeps its
// raw values when the conversion fails.
func (f *File) ConvertChannel(name string) error {
	ch, ok := f.channels[name]
	if !ok {
		return fmt.Errorf("channel %q not found", name)
	}
	if err := ch.convert(); err != nil {
		f.diags = append(f.diags, Diagnostic{Scope: ScopeChannel, Subject: name, Err: err})
		return err
	}
	return nil
}

// re-exported error taxonomy, for errors.Is against diagnostics.
var (
	ErrTruncatedBlock              = utils.ErrTruncatedBlock
	ErrUnknownBlockType            = utils.ErrUnknownBlockType
	ErrUnsupportedBlockType        = utils.ErrUnsupportedBlockType
	ErrMalformedGraph              = utils.ErrMalformedGraph
	ErrNonMonotonicTable           = utils.ErrNonMonotonicTable
	ErrInvalidConversionParameters = utils.ErrInvalidConversionParameters
	ErrMissingFormulaEngine        = utils.ErrMissingFormulaEngine
	ErrUnsupportedExportType       = utils.ErrUnsupportedExportType
)
