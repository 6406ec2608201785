package distributionbatch

import (
	"log/slog"
	"time"

	httpadapter "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/adapters/http"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/adapters/memory"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application/commands"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application/queries"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Store   *memory.Store
}

type Dependencies struct {
	Batches        ports.BatchRepository
	Approvals      ports.ApprovalLedger
	Execution      ports.ExecutionGuard
	Comments       ports.CommentRepository
	Members        ports.MemberDirectory
	Presence       ports.PresenceTracker
	Auth           ports.Authenticator
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	Quorum         int
	PresenceWindow time.Duration
	PollMaxWait    time.Duration
	PollInterval   time.Duration
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	quorum := deps.Quorum
	if quorum <= 0 {
		quorum = entities.DefaultQuorum
	}
	batchUseCase := commands.BatchUseCase{
		Batches:   deps.Batches,
		Approvals: deps.Approvals,
		Execution: deps.Execution,
		Comments:  deps.Comments,
		Clock:     deps.Clock,
		IDGen:     deps.IDGen,
		Quorum:    quorum,
		Logger:    deps.Logger,
	}
	batchQueries := queries.BatchQueries{
		Batches:        deps.Batches,
		Approvals:      deps.Approvals,
		Comments:       deps.Comments,
		Members:        deps.Members,
		Presence:       deps.Presence,
		Clock:          deps.Clock,
		Quorum:         quorum,
		PresenceWindow: deps.PresenceWindow,
		PollMaxWait:    deps.PollMaxWait,
		PollInterval:   deps.PollInterval,
		Logger:         deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Batches: batchUseCase,
			Queries: batchQueries,
			Members: deps.Members,
			Auth:    deps.Auth,
			Clock:   deps.Clock,
			Logger:  deps.Logger,
		},
	}
}

// NewInMemoryModule wires every port to one in-process store. Callers seed
// students and member tokens through Module.Store.
func NewInMemoryModule(seed []entities.StudentCredit, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Batches:        store,
		Approvals:      store,
		Execution:      store,
		Comments:       store,
		Members:        store,
		Presence:       store,
		Auth:           store,
		Clock:          store,
		IDGen:          store,
		Quorum:         entities.DefaultQuorum,
		PresenceWindow: queries.DefaultPresenceWindow,
		PollMaxWait:    queries.DefaultPollMaxWait,
		PollInterval:   queries.DefaultPollInterval,
		Logger:         logger,
	})
	module.Store = store
	return module
}
