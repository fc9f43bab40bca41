package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/sorcerlabs/auctionflow/internal/handlers"
	"github.com/sorcerlabs/auctionflow/internal/handlers/middleware"
	"github.com/sorcerlabs/auctionflow/internal/logger"
	"github.com/sorcerlabs/auctionflow/internal/models"
	"github.com/sorcerlabs/auctionflow/internal/repository"
	"github.com/sorcerlabs/auctionflow/internal/repository/postgres"
	"github.com/sorcerlabs/auctionflow/internal/service/ledger"
	"github.com/sorcerlabs/auctionflow/internal/service/pipeline"
	"github.com/sorcerlabs/auctionflow/internal/service/provisioning"
	"github.com/sorcerlabs/auctionflow/internal/service/workflow"
	"github.com/sorcerlabs/auctionflow/internal/testutil"
)

// Shared secrets the test server is wired with.
const (
	TokenSecret     = "test-token-secret"
	CronSecret      = "test-cron-secret"
	PipelineSecret  = "test-pipeline-secret"
	ProvisionSecret = "test-provision-secret"
	WebhookSecret   = "test-webhook-secret"
)

// AllowedURLs the test server accepts for submissions.
var AllowedURLs = []string{"https://auctions.test/"}

type Services struct {
	Workflow  *workflow.Service
	Credits   *ledger.Service
	Provision *provisioning.Service
	Store     repository.Storage
}

// nullPipeline swallows pipeline traffic: e2e tests exercise the HTTP
// surface, not the external pipeline.
type nullPipeline struct{}

func (nullPipeline) SendDispatch(context.Context, pipeline.Dispatch) error { return nil }

func (nullPipeline) SendProgression(context.Context, pipeline.Progression) error { return nil }

// Create db transaction and run the server with that connection (one
// connection cause one transaction). The created transaction is passed to the
// inner function: so, you can safely use testutil.InTx with it.
func ServeInTx(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.InTx(dbpool, t, func(tx pgx.Tx) {
		storage := postgres.NewStorage(tx)
		l := logger.NewNoOpLogger()

		creditService := ledger.NewService(storage)
		workflowService := workflow.NewService(storage, creditService, nullPipeline{}, AllowedURLs, l)
		verifier := provisioning.NewSignatureVerifier(WebhookSecret)
		provisionService := provisioning.NewService(storage, verifier, l)
		authenticator := middleware.NewAuthenticator(TokenSecret, storage.User())

		router := handlers.NewRouter(
			authenticator,
			workflowService,
			creditService,
			storage.Setting(),
			provisionService,
			handlers.Secrets{
				Cron:      CronSecret,
				Pipeline:  PipelineSecret,
				Provision: ProvisionSecret,
			},
			l,
		)

		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			Workflow:  workflowService,
			Credits:   creditService,
			Provision: provisionService,
			Store:     storage,
		})
	})
}

// CreateUser inserts an active user with the given role.
func CreateUser(t *testing.T, store repository.Storage, email string, role models.Role) models.User {
	t.Helper()

	user, err := store.User().CreateUser(t.Context(), models.User{
		Name:     "Test User",
		Email:    email,
		Role:     role,
		IsActive: true,
	})
	require.NoError(t, err)
	return user
}

// SignToken mints an access token the test server accepts.
func SignToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: userID,
	})
	signed, err := token.SignedString([]byte(TokenSecret))
	require.NoError(t, err)
	return signed
}

// Authorize sets the bearer token of the given user on the request.
func Authorize(t *testing.T, req *http.Request, user models.User) {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+SignToken(t, user.ID))
}
