package sync

import (
	"log"

	"beadboard/internal/models"
)

// subRef identifies one (connection, subscription id) pair, used to
// exclude the subscriber that triggered an inline refresh from the
// resulting delta fan-out (it gets a full snapshot instead).
type subRef struct {
	conn  *Conn
	subID string
}

// emitSnapshot sends an authoritative full replacement to one
// (connection, subscription id) pair.
func (h *Hub) emitSnapshot(c *Conn, subID, key string, items []*models.Issue) {
	sorted := make([]*models.Issue, len(items))
	copy(sorted, items)
	models.SortIssues(sorted)

	env := &models.PushEnvelope{
		Type:     models.MsgSnapshot,
		ID:       subID,
		Revision: c.nextRevision(key),
		Issues:   sorted,
	}
	if err := c.enqueue(env); err != nil {
		log.Printf("⚠️  Failed to send snapshot to %s/%s: %v", c.ID, subID, err)
	}
}

// emitDelta fans a key's delta out to every interested (connection,
// subscription id) pair: one envelope PER CHANGED ITEM, upserts first,
// then deletes. Item-granular envelopes are what keep identity and merge
// semantics intact on the client side.
//
// Send failures are isolated per connection and never abort the fan-out.
func (h *Hub) emitDelta(key string, e *entry, delta Delta, items []*models.Issue, exclude *subRef) {
	byID := make(map[string]*models.Issue, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	upserts := make([]string, 0, len(delta.Added)+len(delta.Updated))
	upserts = append(upserts, delta.Added...)
	upserts = append(upserts, delta.Updated...)

	for _, c := range h.registry.entrySubscribers(e) {
		for _, subID := range c.subsForKey(key) {
			if exclude != nil && exclude.conn == c && exclude.subID == subID {
				continue
			}

			for _, id := range upserts {
				issue, ok := byID[id]
				if !ok {
					continue
				}
				env := &models.PushEnvelope{
					Type:     models.MsgUpsert,
					ID:       subID,
					Revision: c.nextRevision(key),
					Issue:    issue,
				}
				if err := c.enqueue(env); err != nil {
					log.Printf("⚠️  Failed to send upsert to %s/%s: %v", c.ID, subID, err)
				}
			}

			for _, id := range delta.Removed {
				env := &models.PushEnvelope{
					Type:     models.MsgDelete,
					ID:       subID,
					Revision: c.nextRevision(key),
					IssueID:  id,
				}
				if err := c.enqueue(env); err != nil {
					log.Printf("⚠️  Failed to send delete to %s/%s: %v", c.ID, subID, err)
				}
			}
		}
	}
}
