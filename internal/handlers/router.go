package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sorcerlabs/auctionflow/internal/handlers/middleware"
	"github.com/sorcerlabs/auctionflow/internal/logger"
	"github.com/sorcerlabs/auctionflow/internal/models"
	"github.com/sorcerlabs/auctionflow/internal/repository"
	"github.com/sorcerlabs/auctionflow/internal/service/provisioning"
	"github.com/sorcerlabs/auctionflow/internal/service/workflow"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// Secrets guards the machine-to-machine surfaces. Each caller class gets its
// own secret so one leaked credential does not open the others.
type Secrets struct {
	Cron      string
	Pipeline  string
	Provision string
}

func NewRouter(
	authService authService,
	workflowService workflowService,
	creditService creditService,
	settingService settingService,
	provisionService provisionService,
	secrets Secrets,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.AuthMiddleware(authService)
	withAuth := func(h http.Handler, caps ...models.Capability) http.Handler {
		for _, c := range caps {
			h = middleware.RequireCapability(c)(h)
		}
		return authMiddleware(h)
	}

	api := http.NewServeMux()

	api.Handle("POST /items", withAuth(handleSubmitItem(workflowService, logger), models.CapSubmitItems))
	api.Handle("GET /items", withAuth(handleListItems(workflowService, logger)))
	api.Handle("GET /items/{id}", withAuth(handleGetItem(workflowService, logger)))
	api.Handle("POST /items/{id}/status", withAuth(handleChangeStatus(workflowService, logger), models.CapAdvanceStatus))
	api.Handle("POST /items/{id}/sub-items", withAuth(handleCreateSubItems(workflowService, logger), models.CapSubmitItems))
	api.Handle("GET /items/{id}/sub-items", withAuth(handleListSubItems(workflowService, logger)))

	api.Handle("GET /credits/balance", withAuth(handleBalance(creditService, logger)))
	api.Handle("POST /credits/topup", withAuth(handleTopUp(creditService, logger), models.CapManageCredits))
	api.Handle("GET /credits/transactions", withAuth(handleListTransactions(creditService, logger)))
	api.Handle("GET /credits/settings", withAuth(handleListSettings(settingService, logger)))
	api.Handle("PUT /credits/settings/{name}", withAuth(handlePutSetting(settingService, logger), models.CapManageSettings))

	// Machine-to-machine surfaces. The payment webhook authenticates with
	// its own signature scheme, the rest with per-caller shared secrets.
	api.Handle("POST /payments/webhook", handlePaymentWebhook(provisionService, logger))

	withPipelineSecret := middleware.SecretMiddleware(secrets.Pipeline)
	api.Handle("POST /pipeline/result", withPipelineSecret(handlePipelineResult(workflowService, logger)))

	withCronSecret := middleware.SecretMiddleware(secrets.Cron)
	api.Handle("POST /cron/expire-credits", withCronSecret(handleExpireCredits(creditService, logger)))

	withProvisionSecret := middleware.SecretMiddleware(secrets.Provision)
	api.Handle("POST /internal/provision-trial", withProvisionSecret(handleProvisionTrial(provisionService, logger)))
	api.Handle("POST /internal/verify-checkout", withProvisionSecret(handleVerifyCheckout(provisionService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Resolve the user behind the request credentials
	// Has to return apperrors.ErrUserInactive for deactivated accounts
	Auth(ctx context.Context, r *http.Request) (models.User, error)
}

type workflowService interface {
	SubmitURL(ctx context.Context, urlMain string, admin *models.User) (models.AuctionItem, error)
	GetItem(ctx context.Context, itemID uuid.UUID) (models.AuctionItem, error)
	ListItems(ctx context.Context, opts repository.ListItemsOpts) ([]models.AuctionItem, error)
	ChangeStatus(ctx context.Context, itemID uuid.UUID, newStatus string, actor *models.User) (models.AuctionItem, error)
	CreateSubItems(ctx context.Context, parentID uuid.UUID, count int) ([]models.AuctionItem, error)
	ListSubItems(ctx context.Context, parentID uuid.UUID) ([]models.AuctionItem, error)
	ApplyPipelineResult(ctx context.Context, itemID uuid.UUID, result workflow.PipelineResult) (models.AuctionItem, error)
}

type creditService interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error)
	TopUp(ctx context.Context, userID uuid.UUID, amount int64, description string, expiresInDays int) (models.CreditBatch, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, types []string) ([]models.CreditTransaction, error)
	ExpireStaleBatches(ctx context.Context, now time.Time) (int, error)
}

type settingService interface {
	List(ctx context.Context) ([]models.CreditSetting, error)
	Put(ctx context.Context, name string, value int64, updatedBy string) (models.CreditSetting, error)
}

type provisionService interface {
	ReconcilePayment(ctx context.Context, payload []byte, sigHeader string) (provisioning.ReconcileOutcome, error)
	VerifyCheckout(ctx context.Context, event provisioning.SettlementEvent) (provisioning.ReconcileOutcome, error)
	GrantTrialIfEligible(ctx context.Context, userID uuid.UUID, requested int64) (models.CreditBatch, error)
	ProvisionTrialUser(ctx context.Context, email string, name string) (models.User, error)
}
