package orchestration

import "github.com/lokv010/voiceagent-sub000/internal/models"

// customerFromContext pulls the customer profile out of session context.
// Returns nil when no profile was attached at session start.
func customerFromContext(state *models.ConversationState) *models.CustomerContext {
	if state == nil {
		return nil
	}
	if v, ok := state.Context[models.ContextKeyCustomerProfile]; ok {
		if c, ok := v.(*models.CustomerContext); ok {
			return c
		}
	}
	return nil
}
