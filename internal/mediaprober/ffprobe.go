package mediaprober

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"catalogizer/internal/fs"
	"catalogizer/internal/item"
)

// FfprobeProber implements Prober by shelling out to the ffprobe binary,
// the external decoding backend spec §1 deliberately keeps out of scope.
// This is the minimal concrete collaborator needed to drive the pipeline
// end to end: only local file:// mrls are supported; other schemes are
// rejected.
type FfprobeProber struct {
	binary  string
	factory *fs.Factory
}

// NewFfprobeProber constructs a FfprobeProber that resolves mrls through
// factory before handing a local path to ffprobe.
func NewFfprobeProber(binary string, factory *fs.Factory) *FfprobeProber {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FfprobeProber{binary: binary, factory: factory}
}

type ffprobeFormat struct {
	Duration string            `json:"duration"`
	Tags      map[string]string `json:"tags"`
}

type ffprobeStream struct {
	CodecType     string            `json:"codec_type"`
	CodecTagStr   string            `json:"codec_tag_string"`
	BitRate       string            `json:"bit_rate"`
	Tags          map[string]string `json:"tags"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat    `json:"format"`
	Streams []ffprobeStream  `json:"streams"`
}

// Probe runs ffprobe against mrl's local path and converts its JSON report
// into an item.Item.
func (p *FfprobeProber) Probe(ctx context.Context, mrl string) (*item.Item, error) {
	parsed, err := fs.ParseMrl(mrl)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	if parsed.Scheme != "file" {
		return nil, fmt.Errorf("ffprobe: unsupported scheme %q, only local files are probed directly", parsed.Scheme)
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		"/"+parsed.Path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w", parsed.Path, err)
	}

	var report ffprobeOutput
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, fmt.Errorf("ffprobe: parse output for %q: %w", parsed.Path, err)
	}

	return toItem(report), nil
}

func toItem(out ffprobeOutput) *item.Item {
	it := &item.Item{
		Tags: item.Tags{
			Title:       out.Format.Tags["title"],
			Artist:      firstNonEmpty(out.Format.Tags["artist"], out.Format.Tags["album_artist"]),
			AlbumArtist: out.Format.Tags["album_artist"],
			Album:       out.Format.Tags["album"],
			Genre:       out.Format.Tags["genre"],
			Date:        out.Format.Tags["date"],
			ArtworkURL:  artworkURL(out.Streams),
			TrackNumber: parseLeadingInt(out.Format.Tags["track"]),
			DiscNumber:  parseLeadingInt(out.Format.Tags["disc"]),
		},
		DurationMs: parseDurationMs(out.Format.Duration),
	}
	for _, s := range out.Streams {
		t, ok := trackType(s.CodecType)
		if !ok {
			continue
		}
		if s.CodecType == "video" && (s.CodecTagStr == "mjpeg" || s.CodecTagStr == "png") {
			continue // embedded cover art, reported through ArtworkURL
		}
		bitrate, _ := strconv.ParseInt(s.BitRate, 10, 64)
		it.Tracks = append(it.Tracks, item.Track{
			Type:        t,
			Codec:       s.CodecTagStr,
			Bitrate:     bitrate,
			Language:    s.Tags["language"],
			Description: s.Tags["handler_name"],
		})
	}
	return it
}

func trackType(codecType string) (item.TrackType, bool) {
	switch codecType {
	case "audio":
		return item.TrackAudio, true
	case "video":
		return item.TrackVideo, true
	case "subtitle":
		return item.TrackSubtitle, true
	default:
		return 0, false
	}
}

func artworkURL(streams []ffprobeStream) string {
	for _, s := range streams {
		if s.CodecType == "video" && (s.CodecTagStr == "mjpeg" || s.CodecTagStr == "png") {
			return "attachment://cover"
		}
	}
	return ""
}

func parseDurationMs(raw string) int64 {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int64(f * 1000)
}

func parseLeadingInt(raw string) int {
	raw = strings.SplitN(raw, "/", 2)[0]
	n, _ := strconv.Atoi(strings.TrimSpace(raw))
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
