package entities

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// BatchState is the slice of batch state observers care about when deciding
// whether to refetch the projection.
type BatchState struct {
	Status            BatchStatus
	ApprovalMemberIDs []string
	OnlineMemberIDs   []string
}

// StateHash fingerprints a BatchState. It is only a change detector: equal
// inputs give equal hashes regardless of slice order.
func StateHash(state BatchState) string {
	approvals := sortedCopy(state.ApprovalMemberIDs)
	online := sortedCopy(state.OnlineMemberIDs)

	var builder strings.Builder
	builder.WriteString("status=")
	builder.WriteString(string(state.Status))
	builder.WriteString("\ncount=")
	builder.WriteString(strconv.Itoa(len(approvals)))
	builder.WriteString("\napprovals=")
	builder.WriteString(strings.Join(approvals, ","))
	builder.WriteString("\npresence=")
	builder.WriteString(strings.Join(online, ","))

	sum := blake3.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:16])
}

func sortedCopy(values []string) []string {
	items := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			items = append(items, value)
		}
	}
	sort.Strings(items)
	return items
}
