package service

import (
	"sort"
	"strings"
)

// DirectChannelID computes the canonical channel id for a one-to-one
// conversation. Both participants derive the same id regardless of who
// initiates: the two user ids are sorted lexicographically and joined with an
// underscore.
func DirectChannelID(userIDA, userIDB string) string {
	ids := []string{userIDA, userIDB}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}
