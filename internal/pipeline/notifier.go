package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/triage-ai/warden/internal/escalation"
)

// FeedNotifier publishes quality incidents onto the dataset's feed as
// incident records. Gateway incidents are not tied to a dataset and are
// skipped.
type FeedNotifier struct {
	pub Publisher
}

func NewFeedNotifier(pub Publisher) *FeedNotifier {
	return &FeedNotifier{pub: pub}
}

func (n *FeedNotifier) NotifyIncident(ctx context.Context, inc *escalation.Incident) error {
	if inc.Source != escalation.SourceQuality || inc.SubjectID == "" {
		return nil
	}
	payload, err := json.Marshal(inc)
	if err != nil {
		return err
	}
	return n.pub.Publish(ctx, Record{
		ID:        inc.ID,
		DatasetID: inc.SubjectID,
		Kind:      KindIncident,
		Status:    string(inc.Status),
		Message:   inc.Title,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}
