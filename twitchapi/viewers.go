package twitchapi

import (
	"context"
	"errors"

	"github.com/onnwee/merchbot/poll"
)

// OfflineLabel is the reading label for a channel that is not live.
const OfflineLabel = "offline"

// ViewerFetcher reads a channel's live viewer count. An offline channel reads
// as zero viewers, so going live again is reported as an increase.
type ViewerFetcher struct {
	Client *HelixClient
}

// Fetch implements poll.Fetcher; login is the channel to look up.
func (v *ViewerFetcher) Fetch(ctx context.Context, login string) (poll.Reading, error) {
	if v.Client == nil {
		return poll.Reading{}, errors.New("viewer fetcher has no helix client")
	}
	streams, err := v.Client.GetStreams(ctx, login)
	if err != nil {
		return poll.Reading{}, err
	}
	if len(streams) == 0 {
		return poll.Reading{Value: 0, Label: OfflineLabel}, nil
	}
	s := streams[0]
	label := s.Title
	if label == "" {
		label = s.UserLogin
	}
	return poll.Reading{Value: s.ViewerCount, Label: label}, nil
}
