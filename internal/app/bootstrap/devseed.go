package bootstrap

import (
	"log/slog"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/adapters/memory"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"

	"github.com/shopspring/decimal"
)

// Demo data for an in-memory run. The tokens only exist when no JWT secret
// is configured, so they never work against a real deployment.
var (
	devStudents = []entities.StudentCredit{
		{StudentID: "stu-001", DisplayName: "Amara Okafor", GuardianEmail: "okafor.family@example.org", Credits: 1200},
		{StudentID: "stu-002", DisplayName: "Liam Chen", GuardianEmail: "chen.family@example.org", Credits: 800},
		{StudentID: "stu-003", DisplayName: "Sofia Reyes", GuardianEmail: "reyes.family@example.org", Credits: 450},
	}
	devMembers = map[string]entities.Member{
		"dev-admin": {MemberID: "board-admin", DisplayName: "Board Admin", Email: "admin@example.org", IsAdmin: true},
		"dev-bea":   {MemberID: "board-bea", DisplayName: "Bea Santos", Email: "bea@example.org"},
		"dev-cal":   {MemberID: "board-cal", DisplayName: "Cal Morgan", Email: "cal@example.org"},
	}
)

func seedDevStore(store *memory.Store, withTokens bool, logger *slog.Logger) {
	now := time.Now().UTC()
	for _, student := range devStudents {
		student.ScholarshipUSD = decimal.Zero
		student.UpdatedAt = now
		store.SetStudent(student)
	}
	tokens := 0
	if withTokens {
		for token, member := range devMembers {
			store.SetMemberToken(token, member)
			tokens++
		}
	}
	logger.Warn("in-memory store seeded with demo data",
		"event", "bootstrap_dev_seed_loaded",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"students", len(devStudents),
		"tokens", tokens,
	)
}
