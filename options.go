package mdf

// MetadataLevel selects how much non-channel metadata a File retains.
type MetadataLevel int

const (
	// MetadataFull keeps attachments, events and the file-history chain.
	MetadataFull MetadataLevel = iota

	// MetadataMinimal keeps only the header fields.
	MetadataMinimal
)

// ReadOptions configures Open and OpenReader.
type ReadOptions struct {
	// ChannelList restricts decoding to the named channels. Master
	// channels of the selected groups are always kept. Empty means all.
	ChannelList []string

	// ConvertAfterRead applies each channel's conversion as part of Open.
	ConvertAfterRead bool

	// MaxWorkers bounds the decode and conversion fan-out.
	// Zero or negative means one worker per CPU.
	MaxWorkers int

	// Metadata selects the retained metadata level.
	Metadata MetadataLevel
}

// DefaultReadOptions returns the options used when Open receives nil:
// all channels, conversions applied, per-CPU workers, full metadata.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{ConvertAfterRead: true}
}
