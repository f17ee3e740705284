package aggregation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanpulse/scanpulse/internal/aggregation"
	"github.com/scanpulse/scanpulse/internal/model"
	"github.com/scanpulse/scanpulse/internal/store/memory"
	"github.com/scanpulse/scanpulse/internal/testutil"
)

func TestScopeResolver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	profile := testutil.NewTestProfile(t, "owner-1", "Shop")
	require.NoError(t, store.CreateProfile(ctx, profile))
	foreign := testutil.NewTestProfile(t, "owner-2", "Other")
	require.NoError(t, store.CreateProfile(ctx, foreign))

	live := newQr(t, store, "owner-1")
	member := testutil.NewTestQrCode(t, "owner-1")
	member.ProfileID = &profile.ID
	require.NoError(t, store.CreateQrCode(ctx, member))
	gone := newQr(t, store, "owner-1")
	require.NoError(t, store.SoftDeleteQrCode(ctx, gone.ID, now))
	theirs := newQr(t, store, "owner-2")

	resolver := aggregation.NewScopeResolver(store)

	tests := []struct {
		name    string
		scope   aggregation.Scope
		want    []string
		wantErr error
	}{
		{"owner excludes deleted", aggregation.Scope{OwnerID: "owner-1"}, []string{live.ID, member.ID}, nil},
		{"owner with deleted", aggregation.Scope{OwnerID: "owner-1", IncludeDeleted: true}, []string{live.ID, member.ID, gone.ID}, nil},
		{"profile", aggregation.Scope{OwnerID: "owner-1", ProfileID: profile.ID}, []string{member.ID}, nil},
		{"single code", aggregation.Scope{OwnerID: "owner-1", QrCodeID: live.ID}, []string{live.ID}, nil},
		{"deleted code hidden", aggregation.Scope{OwnerID: "owner-1", QrCodeID: gone.ID}, nil, aggregation.ErrScopeNotFound},
		{"deleted code included", aggregation.Scope{OwnerID: "owner-1", QrCodeID: gone.ID, IncludeDeleted: true}, []string{gone.ID}, nil},
		{"foreign code", aggregation.Scope{OwnerID: "owner-1", QrCodeID: theirs.ID}, nil, aggregation.ErrScopeNotFound},
		{"foreign profile", aggregation.Scope{OwnerID: "owner-1", ProfileID: foreign.ID}, nil, aggregation.ErrScopeNotFound},
		{"missing code", aggregation.Scope{OwnerID: "owner-1", QrCodeID: "nope"}, nil, aggregation.ErrScopeNotFound},
		{"code outside profile", aggregation.Scope{OwnerID: "owner-1", ProfileID: profile.ID, QrCodeID: live.ID}, nil, aggregation.ErrScopeNotFound},
		{"new owner", aggregation.Scope{OwnerID: "owner-9"}, []string{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(ctx, tt.scope)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, aggregation.IDs(got))
		})
	}
}

func TestSoftDeletedHistoryStaysAggregable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	qr := newQr(t, store, "owner-1")
	seed(t, store, qr, 3, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), model.DeviceDesktop)
	require.NoError(t, store.SoftDeleteQrCode(ctx, qr.ID, now))

	resolver := aggregation.NewScopeResolver(store)
	engine := aggregation.New(store, discardLogger())
	w := aggregation.RangeWeek.Window(now)

	active, err := resolver.Resolve(ctx, aggregation.Scope{OwnerID: "owner-1"})
	require.NoError(t, err)
	total, err := engine.TotalScans(ctx, aggregation.IDs(active), w)
	require.NoError(t, err)
	assert.Zero(t, total)

	all, err := resolver.Resolve(ctx, aggregation.Scope{OwnerID: "owner-1", IncludeDeleted: true})
	require.NoError(t, err)
	total, err = engine.TotalScans(ctx, aggregation.IDs(all), w)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}
