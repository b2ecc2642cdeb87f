package routing

import (
	"fmt"
	"sort"

	"github.com/rcenet/rce/src/identity"
	"github.com/rcenet/rce/src/protocol"
)

// LSAPropertyKey is the node property under which links are advertised.
const LSAPropertyKey = "lsa"

// DefaultLinkWeight is the weight of a channel.
const DefaultLinkWeight = 1

// Link is one entry of a link state advertisement.
type Link struct {
	ChannelID string `codec:"channel"`
	Node      string `codec:"node"`
	Weight    int    `codec:"weight"`
}

type advertisement struct {
	Links []Link `codec:"links"`
}

// EncodeLSA renders links as the JSON value of the lsa property. Links are
// sorted so that equal link sets give equal values.
func EncodeLSA(links []Link) (string, error) {
	sorted := append([]Link(nil), links...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChannelID < sorted[j].ChannelID })

	data, err := protocol.EncodeJSON(&advertisement{Links: sorted})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeLSA parses the value of an lsa property.
func DecodeLSA(value string) ([]Link, error) {
	var adv advertisement
	if err := protocol.DecodeJSON([]byte(value), &adv); err != nil {
		return nil, fmt.Errorf("%w: lsa: %v", protocol.ErrMalformed, err)
	}
	for _, l := range adv.Links {
		if _, err := identity.ParseInstanceNodeSessionID(l.Node); err != nil {
			return nil, fmt.Errorf("%w: lsa: %v", protocol.ErrMalformed, err)
		}
		if l.ChannelID == "" || l.Weight < 1 {
			return nil, fmt.Errorf("%w: lsa: bad link %+v", protocol.ErrMalformed, l)
		}
	}
	return adv.Links, nil
}
