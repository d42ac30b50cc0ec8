package seed

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/rentledger/internal/tenant/domain"
	"github.com/smallbiznis/rentledger/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureMasterTenantIsIdempotent(t *testing.T) {
	db := dbtest.Open(t, &tenantdomain.Tenant{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := EnsureMasterTenant(ctx, db, node)
	require.NoError(t, err)
	assert.Equal(t, tenantdomain.MasterSlug, first.Slug)
	assert.True(t, first.IsActive)

	second, err := EnsureMasterTenant(ctx, db, node)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&tenantdomain.Tenant{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestEnsureMasterTenantRequiresHandles(t *testing.T) {
	_, err := EnsureMasterTenant(context.Background(), nil, nil)
	assert.Error(t, err)
}
