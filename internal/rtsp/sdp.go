package rtsp

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

type TrackKind string

const (
	KindVideo TrackKind = "video"
	KindAudio TrackKind = "audio"
)

// ClockRate is the fixed RTP clock assumed per kind; the SDP rtpmap is not consulted.
func (k TrackKind) ClockRate() int {
	if k == KindVideo {
		return 90000
	}
	return 8000
}

// Media is one m= section as negotiated with the camera. Line is the part of
// the media line after "m=<kind> ".
type Media struct {
	Kind      TrackKind
	Line      string
	Bandwidth string
	RTPMap    string
	FMTP      string
	Control   string
}

// Description is the negotiated media of one camera. Either track may be
// absent, never both.
type Description struct {
	Video *Media
	Audio *Media
}

// Tracks returns the present tracks, video first.
func (d *Description) Tracks() []*Media {
	var tracks []*Media
	if d.Video != nil {
		tracks = append(tracks, d.Video)
	}
	if d.Audio != nil {
		tracks = append(tracks, d.Audio)
	}
	return tracks
}

// ParseDescription reads the first video and first audio sections of an SDP body.
func ParseDescription(body []byte) (*Description, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("%w: DESCRIBE reply without body", ErrProtocol)
	}

	session := &sdp.SessionDescription{}
	if err := session.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("%w: failed to parse SDP: %v", ErrProtocol, err)
	}

	d := &Description{}
	for _, md := range session.MediaDescriptions {
		kind := TrackKind(md.MediaName.Media)
		switch {
		case kind == KindVideo && d.Video == nil:
			d.Video = newMedia(kind, md)
		case kind == KindAudio && d.Audio == nil:
			d.Audio = newMedia(kind, md)
		}
	}

	if d.Video == nil && d.Audio == nil {
		return nil, fmt.Errorf("%w: no video or audio media in SDP", ErrProtocol)
	}
	return d, nil
}

func newMedia(kind TrackKind, md *sdp.MediaDescription) *Media {
	m := &Media{Kind: kind, Line: mediaLine(md.MediaName)}
	if len(md.Bandwidth) > 0 {
		b := md.Bandwidth[0]
		m.Bandwidth = fmt.Sprintf("%s:%d", b.Type, b.Bandwidth)
		if b.Experimental {
			m.Bandwidth = "X-" + m.Bandwidth
		}
	}
	m.RTPMap, _ = md.Attribute("rtpmap")
	m.FMTP, _ = md.Attribute("fmtp")
	m.Control, _ = md.Attribute("control")
	return m
}

func mediaLine(name sdp.MediaName) string {
	port := strconv.Itoa(name.Port.Value)
	if name.Port.Range != nil {
		port += "/" + strconv.Itoa(*name.Port.Range)
	}
	return strings.Join(append([]string{port, strings.Join(name.Protos, "/")}, name.Formats...), " ")
}

func parseMediaLine(kind TrackKind, line string) (sdp.MediaName, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return sdp.MediaName{}, fmt.Errorf("%w: short media line %q", ErrProtocol, line)
	}

	name := sdp.MediaName{
		Media:   string(kind),
		Protos:  strings.Split(fields[1], "/"),
		Formats: fields[2:],
	}
	value, count, ranged := strings.Cut(fields[0], "/")
	port, err := strconv.Atoi(value)
	if err != nil {
		return sdp.MediaName{}, fmt.Errorf("%w: invalid media port %q", ErrProtocol, fields[0])
	}
	name.Port.Value = port
	if ranged {
		r, err := strconv.Atoi(count)
		if err != nil {
			return sdp.MediaName{}, fmt.Errorf("%w: invalid media port %q", ErrProtocol, fields[0])
		}
		name.Port.Range = &r
	}
	return name, nil
}

func parseBandwidth(in string) (sdp.Bandwidth, bool) {
	typ, value, ok := strings.Cut(in, ":")
	if !ok {
		return sdp.Bandwidth{}, false
	}
	bw, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return sdp.Bandwidth{}, false
	}
	b := sdp.Bandwidth{Type: typ, Bandwidth: bw}
	if strings.HasPrefix(typ, "X-") {
		b.Experimental = true
		b.Type = strings.TrimPrefix(typ, "X-")
	}
	return b, true
}

// TrackControl is the control name advertised to viewers for track index i.
func TrackControl(i int) string {
	return "track" + strconv.Itoa(i+1)
}

// Render synthesizes the SDP served to viewers, advertising address as origin.
func (d *Description) Render(name, address string) ([]byte, error) {
	session := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(rand.Intn(900000) + 100000),
			SessionVersion: uint64(rand.Intn(9) + 1),
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: address,
		},
		SessionName: sdp.SessionName(name),
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{}},
		},
	}

	for i, track := range d.Tracks() {
		mn, err := parseMediaLine(track.Kind, track.Line)
		if err != nil {
			return nil, err
		}
		md := &sdp.MediaDescription{MediaName: mn}
		if track.Kind == KindVideo {
			md.ConnectionInformation = &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: "0.0.0.0"},
			}
		}
		if b, ok := parseBandwidth(track.Bandwidth); ok {
			md.Bandwidth = []sdp.Bandwidth{b}
		}
		if track.RTPMap != "" {
			md.Attributes = append(md.Attributes, sdp.NewAttribute("rtpmap", track.RTPMap))
		}
		if track.FMTP != "" {
			md.Attributes = append(md.Attributes, sdp.NewAttribute("fmtp", track.FMTP))
		}
		md.Attributes = append(md.Attributes, sdp.NewAttribute("control", TrackControl(i)))
		session.MediaDescriptions = append(session.MediaDescriptions, md)
	}

	return session.Marshal()
}
