package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eaf/backend/internal/application/command"
	"github.com/eaf/backend/internal/application/tenancy"
	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/interfaces/http/dto"
	"github.com/eaf/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDispatcher is a mock implementation of Dispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, cmd *command.Command) (any, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0), args.Error(1)
}

func tenantRouter(d Dispatcher) *gin.Engine {
	router := gin.New()
	api := router.Group("/api/v1", middleware.TenantMiddleware())
	NewTenantHandler(d).RegisterRoutes(api)
	return router
}

func send(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.TenantHeaderKey, "control-plane")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func isCommand(name string, payload any) any {
	return mock.MatchedBy(func(cmd *command.Command) bool {
		return cmd.Name == name &&
			cmd.Metadata[command.MetadataTenantID] == "control-plane" &&
			assert.ObjectsAreEqual(payload, cmd.Payload)
	})
}

func TestTenantHandler_Create(t *testing.T) {
	d := new(MockDispatcher)
	d.On("Dispatch", mock.Anything, isCommand(tenancy.CommandCreateTenant, tenancy.CreateTenant{TenantID: "acme", Name: "Acme"})).
		Return(&tenancy.TenantResponse{ID: "acme", Name: "Acme", Status: "ACTIVE"}, nil)

	w := send(tenantRouter(d), http.MethodPost, "/api/v1/tenants", `{"tenantId":"acme","name":"Acme"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w).Data.(map[string]any)
	assert.Equal(t, "acme", data["id"])
	d.AssertExpectations(t)
}

func TestTenantHandler_Routes(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		body    string
		command string
		payload any
	}{
		{
			name: "rename", method: http.MethodPut, target: "/api/v1/tenants/acme/name",
			body: `{"name":"Acme Corp","reason":"rebrand"}`, command: tenancy.CommandRenameTenant,
			payload: tenancy.RenameTenant{TenantID: "acme", Name: "Acme Corp", Reason: "rebrand"},
		},
		{
			name: "suspend", method: http.MethodPost, target: "/api/v1/tenants/acme/suspend",
			body: `{"reason":"unpaid"}`, command: tenancy.CommandSuspendTenant,
			payload: tenancy.SuspendTenant{TenantID: "acme", Reason: "unpaid"},
		},
		{
			name: "reactivate", method: http.MethodPost, target: "/api/v1/tenants/acme/reactivate",
			command: tenancy.CommandReactivateTenant,
			payload: tenancy.ReactivateTenant{TenantID: "acme"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := new(MockDispatcher)
			d.On("Dispatch", mock.Anything, isCommand(tt.command, tt.payload)).
				Return(&tenancy.TenantResponse{ID: "acme"}, nil)

			w := send(tenantRouter(d), tt.method, tt.target, tt.body)

			assert.Equal(t, http.StatusOK, w.Code)
			d.AssertExpectations(t)
		})
	}
}

func TestTenantHandler_Errors(t *testing.T) {
	t.Run("invalid body is not dispatched", func(t *testing.T) {
		d := new(MockDispatcher)

		w := send(tenantRouter(d), http.MethodPost, "/api/v1/tenants", `{"tenantId":"acme"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("duplicate tenant", func(t *testing.T) {
		d := new(MockDispatcher)
		d.On("Dispatch", mock.Anything, mock.Anything).
			Return(nil, shared.NewDomainError("ALREADY_EXISTS", "tenant acme already exists"))

		w := send(tenantRouter(d), http.MethodPost, "/api/v1/tenants", `{"tenantId":"acme","name":"Acme"}`)

		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decode(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeAlreadyExists, resp.Error.Code)
	})

	t.Run("invalid state", func(t *testing.T) {
		d := new(MockDispatcher)
		d.On("Dispatch", mock.Anything, mock.Anything).
			Return(nil, shared.NewDomainError("INVALID_STATE", "tenant acme is not suspended"))

		w := send(tenantRouter(d), http.MethodPost, "/api/v1/tenants/acme/reactivate", "")

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}
