package broker

import (
	"strings"

	"github.com/johndosdos/chatterd/internal/model"
)

// Gateway events are fanned out between nodes through one JetStream stream.
// Subjects look like EVENTS.<site>.room.<room> and
// EVENTS.<site>.channel.<channel>.
var (
	StreamName = "EVENTS"
	SubjectAll = StreamName + ".>"
)

// SubjectRoom returns the subject events for room of site are published on.
func SubjectRoom(site model.SiteID, room model.RoomID) string {
	return StreamName + "." + token(string(site)) + ".room." + token(string(room))
}

// SubjectChannel returns the subject events for a channel of site are
// published on.
func SubjectChannel(site model.SiteID, channelID string) string {
	return StreamName + "." + token(string(site)) + ".channel." + token(channelID)
}

// token makes s usable as a single subject token. The subject is only used
// for filtering; the exact site and room travel in the envelope.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
