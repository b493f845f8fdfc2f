package mdf

import (
	"fmt"
	"io"

	"github.com/scigolib/mdf/internal/convert"
	"github.com/scigolib/mdf/internal/utils"
	"github.com/scigolib/mdf/internal/writer"
)

// WriteV3 re-encodes the file's channels into the v3.30 binary layout at
// path. Channels are grouped by master; conversions already applied are
// written as plain values with a unity conversion carrying the unit.
func WriteV3(path string, f *File) error {
	h, groups, err := exportSpec(f)
	if err != nil {
		return err
	}
	return writer.WriteV3(path, h, groups)
}

// WriteV3To serializes the v3.30 image into w.
func WriteV3To(w io.Writer, f *File) error {
	h, groups, err := exportSpec(f)
	if err != nil {
		return err
	}
	fw, mem := writer.NewBufferWriter()
	if err := writer.WriteV3File(fw, h, groups); err != nil {
		return err
	}
	_, err = w.Write(mem.Bytes())
	return err
}

// exportSpec regroups the file's channels for serialization: one output
// group per master channel, plus one for masterless channels.
func exportSpec(f *File) (writer.HeaderSpec, []writer.GroupSpec, error) {
	h := writer.HeaderSpec{
		Author:       f.Author(),
		Organisation: f.Organisation(),
		Project:      f.Project(),
		Subject:      f.Subject(),
		Comment:      f.Comment(),
		StartTime:    f.StartTime(),
	}

	grouped := map[string]bool{}
	var groups []writer.GroupSpec

	for _, master := range f.order {
		members, ok := f.masters[master]
		if !ok {
			continue
		}
		g := writer.GroupSpec{}
		names := append([]string{master}, members...)
		for _, name := range names {
			ch, ok := f.channels[name]
			if !ok {
				continue
			}
			spec, err := channelSpec(ch)
			if err != nil {
				return h, nil, err
			}
			g.Channels = append(g.Channels, spec)
			grouped[name] = true
		}
		groups = append(groups, g)
	}

	var rest writer.GroupSpec
	for _, name := range f.order {
		if grouped[name] {
			continue
		}
		spec, err := channelSpec(f.channels[name])
		if err != nil {
			return h, nil, err
		}
		rest.Channels = append(rest.Channels, spec)
	}
	if len(rest.Channels) > 0 {
		groups = append(groups, rest)
	}
	return h, groups, nil
}

func channelSpec(ch *Channel) (writer.ChannelSpec, error) {
	if ch.data.Kind == convert.BytesValues {
		return writer.ChannelSpec{}, utils.WrapError(
			fmt.Sprintf("channel %q: byte-array columns", ch.Name),
			utils.ErrUnsupportedExportType)
	}
	return writer.ChannelSpec{
		Name:        ch.Name,
		Unit:        ch.Unit,
		Description: ch.Description,
		Master:      ch.Master,
		Samples:     ch.data,
	}, nil
}
