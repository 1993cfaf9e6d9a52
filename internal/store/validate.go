package store

import "fmt"

// MaxFieldLength bounds identifier fields (id, siteId, workflowId, name).
// Matches the VARCHAR(255) columns in the postgres schema.
const MaxFieldLength = 255

// ValidateBots checks required fields and site id uniqueness across the submitted set.
// Because a write replaces the whole collection, a duplicate can only come from the set itself.
func ValidateBots(bots []Bot) error {
	seenSite := make(map[string]struct{}, len(bots))
	seenID := make(map[string]struct{}, len(bots))
	for i, b := range bots {
		if b.ID == "" {
			return fmt.Errorf("%w: bots[%d]: id is required", ErrInvalidBot, i)
		}
		if b.SiteID == "" {
			return fmt.Errorf("%w: bots[%d]: siteId is required", ErrInvalidBot, i)
		}
		if b.WorkflowID == "" {
			return fmt.Errorf("%w: bots[%d]: workflowId is required", ErrInvalidBot, i)
		}
		for field, v := range map[string]string{"id": b.ID, "siteId": b.SiteID, "workflowId": b.WorkflowID, "name": b.Name} {
			if len(v) > MaxFieldLength {
				return fmt.Errorf("%w: bots[%d]: %s too long: %d chars (max %d)", ErrInvalidBot, i, field, len(v), MaxFieldLength)
			}
		}
		if _, dup := seenSite[b.SiteID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateSiteID, b.SiteID)
		}
		if _, dup := seenID[b.ID]; dup {
			return fmt.Errorf("%w: bots[%d]: duplicate id %q", ErrInvalidBot, i, b.ID)
		}
		seenSite[b.SiteID] = struct{}{}
		seenID[b.ID] = struct{}{}
	}
	return nil
}
