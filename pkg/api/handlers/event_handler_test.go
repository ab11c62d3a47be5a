package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidewater-io/cascade/internal/storage"
	"github.com/tidewater-io/cascade/pkg/api/dto"
	"github.com/tidewater-io/cascade/pkg/models"
)

func TestInjectEvent(t *testing.T) {
	t.Run("event with a matching hook creates a listener instance", func(t *testing.T) {
		a := newTestAPI(t)
		require.NoError(t, a.engine.Hooks().Register(&models.Hook{
			ID:                 "on-signup",
			ListenerWorkflowID: "onboarding",
			EventPattern:       "USER_SIGNED_UP",
			ContextMapping:     map[string]string{"email": "signup_email"},
		}))

		w := a.do(http.MethodPost, "/api/v1/events", dto.InjectEventRequest{
			Type:    "USER_SIGNED_UP",
			Payload: map[string]any{"email": "ada@example.com"},
		})
		assert.Equal(t, http.StatusAccepted, w.Code)

		instances, err := a.store.ListInstances(context.Background(), storage.InstanceFilter{})
		require.NoError(t, err)
		require.Len(t, instances, 1)
		assert.Equal(t, "onboarding", instances[0].WorkflowID)
		assert.Equal(t, "ada@example.com", instances[0].Context["signup_email"])
		assert.Equal(t, 1, instances[0].HookDepth)
	})

	t.Run("event without a hook is accepted and creates nothing", func(t *testing.T) {
		a := newTestAPI(t)

		w := a.do(http.MethodPost, "/api/v1/events", dto.InjectEventRequest{
			Type: "UNROUTED_EVENT",
		})
		assert.Equal(t, http.StatusAccepted, w.Code)

		instances, err := a.store.ListInstances(context.Background(), storage.InstanceFilter{})
		require.NoError(t, err)
		assert.Empty(t, instances)
	})

	t.Run("missing event type is rejected", func(t *testing.T) {
		a := newTestAPI(t)

		w := a.do(http.MethodPost, "/api/v1/events", dto.InjectEventRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListHooks(t *testing.T) {
	a := newTestAPI(t)
	require.NoError(t, a.engine.Hooks().Register(&models.Hook{
		ID:                 "on-signup",
		ListenerWorkflowID: "onboarding",
		EventPattern:       "USER_SIGNED_UP",
	}))

	w := a.do(http.MethodGet, "/api/v1/hooks", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "on-signup")
}
