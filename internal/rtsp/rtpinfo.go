package rtsp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TrackSync is the RTP position of one track.
type TrackSync struct {
	Seq     uint16
	RTPTime uint32
}

// SyncInfo is the baseline a camera reported on PLAY.
type SyncInfo struct {
	Tracks []TrackSync
	Start  time.Time
}

// ParseRTPInfo reads the seq and rtptime of every entry of an RTP-Info header.
func ParseRTPInfo(header string) ([]TrackSync, error) {
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("%w: missing RTP-Info", ErrProtocol)
	}

	var tracks []TrackSync
	for _, entry := range strings.Split(header, ",") {
		var (
			track           TrackSync
			hasSeq, hasTime bool
		)
		for _, param := range strings.Split(entry, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok {
				continue
			}
			switch strings.ToLower(name) {
			case "seq":
				seq, err := strconv.ParseUint(value, 10, 16)
				if err != nil {
					return nil, fmt.Errorf("%w: invalid RTP-Info seq %q", ErrProtocol, value)
				}
				track.Seq = uint16(seq)
				hasSeq = true
			case "rtptime":
				rtptime, err := strconv.ParseUint(value, 10, 32)
				if err != nil {
					return nil, fmt.Errorf("%w: invalid RTP-Info rtptime %q", ErrProtocol, value)
				}
				track.RTPTime = uint32(rtptime)
				hasTime = true
			}
		}
		if hasSeq && hasTime {
			tracks = append(tracks, track)
		}
	}

	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: invalid RTP-Info %q", ErrProtocol, header)
	}
	return tracks, nil
}

// Extrapolate advances an RTP timestamp by elapsed at clockRate, wrapping at 2^32.
func Extrapolate(base uint32, elapsed time.Duration, clockRate int) uint32 {
	return base + uint32(int64(elapsed.Seconds()*float64(clockRate)))
}

// Now returns the per-track position at instant at, using the kinds of tracks
// for the clock rates. Tracks the camera reported no baseline for are omitted.
func (s *SyncInfo) Now(tracks []*Media, at time.Time) []TrackSync {
	elapsed := at.Sub(s.Start)
	var out []TrackSync
	for i, track := range tracks {
		if i >= len(s.Tracks) {
			break
		}
		out = append(out, TrackSync{
			Seq:     s.Tracks[i].Seq,
			RTPTime: Extrapolate(s.Tracks[i].RTPTime, elapsed, track.Kind.ClockRate()),
		})
	}
	return out
}

// FormatRTPInfo renders positions with urls base/track1, base/track2.
func FormatRTPInfo(base string, tracks []TrackSync) string {
	entries := make([]string, len(tracks))
	for i, track := range tracks {
		entries[i] = fmt.Sprintf("url=%s/%s;seq=%d;rtptime=%d", base, TrackControl(i), track.Seq, track.RTPTime)
	}
	return strings.Join(entries, ",")
}
