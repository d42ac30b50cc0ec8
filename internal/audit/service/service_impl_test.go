package service_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/rentledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/rentledger/internal/audit/service"
	obscontext "github.com/smallbiznis/rentledger/internal/observability/context"
	"github.com/smallbiznis/rentledger/internal/testutil/dbtest"
	"github.com/smallbiznis/rentledger/pkg/db/pagination"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) (auditdomain.Service, *snowflake.Node) {
	t.Helper()
	db := dbtest.Open(t, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	return auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
	}), node
}

func TestRecordMasksContactAndUsesContextActor(t *testing.T) {
	svc, node := newService(t)
	tenantID := node.Generate()

	ctx := obscontext.WithActor(context.Background(), "user", "u-42")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	err := svc.Record(ctx, nil, auditdomain.Entry{
		TenantID:   &tenantID,
		Action:     "contract.updated",
		TargetType: "contract",
		TargetID:   "99",
		Metadata:   map[string]any{"phone": "+5491155550123"},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), tenantctx.ForRequest(tenantID), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "u-42", *entry.ActorID)
	assert.Equal(t, "****0123", entry.Metadata["phone"])
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
}

func TestRecordRejectsBlankAction(t *testing.T) {
	svc, _ := newService(t)
	err := svc.Record(context.Background(), nil, auditdomain.Entry{Action: "  "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListIsTenantScopedAndPaginated(t *testing.T) {
	svc, node := newService(t)
	tenantA := node.Generate()
	tenantB := node.Generate()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(context.Background(), nil, auditdomain.Entry{
			TenantID: &tenantA,
			Action:   "charge.generated",
		}))
	}
	require.NoError(t, svc.Record(context.Background(), nil, auditdomain.Entry{
		TenantID: &tenantB,
		Action:   "charge.generated",
	}))

	first, err := svc.List(context.Background(), tenantctx.ForRequest(tenantA), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)

	second, err := svc.List(context.Background(), tenantctx.ForRequest(tenantA), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)

	unbound, err := svc.List(context.Background(), tenantctx.Unbound(tenantctx.OriginRequest), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	assert.Empty(t, unbound.AuditLogs)
}
