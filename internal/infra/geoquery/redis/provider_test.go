package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"spotradar/config"
	"spotradar/internal/domain/entity"
	"spotradar/internal/domain/service"
	"spotradar/internal/infra/geoquery"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOfflineProvider(t *testing.T, cfg *config.RedisConfig) *Provider {
	t.Helper()

	// No command is sent in these tests, so the address is never dialled.
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNew_KeyLayout(t *testing.T) {
	p := newOfflineProvider(t, nil)
	assert.Equal(t, defaultGeoKey, p.geoKey)
	assert.Equal(t, defaultPayloadKey, p.payloadKey)

	p = newOfflineProvider(t, &config.RedisConfig{GeoKey: "radar:geo", PayloadKey: "radar:payload"})
	assert.Equal(t, "radar:geo", p.geoKey)
	assert.Equal(t, "radar:payload", p.payloadKey)
}

func TestSubscribe_RejectsInvalidQuery(t *testing.T) {
	p := newOfflineProvider(t, nil)

	_, err := p.Subscribe(context.Background(), service.GeoQuery{
		Center:   entity.GeoPoint{Latitude: 35.68, Longitude: 139.76},
		RadiusKm: -1,
	}, func(service.ProviderEvent) {})

	require.Error(t, err)
}

func TestWriters_EmptyInputIsNoop(t *testing.T) {
	p := newOfflineProvider(t, nil)

	require.NoError(t, p.UpsertSpots(context.Background(), nil))
	require.NoError(t, p.RemoveSpots(context.Background(), nil))
}

// scriptedRedis answers GEOSEARCH and HMGET from memory without dialling.
type scriptedRedis struct {
	locations []goredis.GeoLocation
	payloads  map[string]string
	searchErr error

	hmgetFields []string
}

func (h *scriptedRedis) DialHook(next goredis.DialHook) goredis.DialHook {
	return next
}

func (h *scriptedRedis) ProcessHook(goredis.ProcessHook) goredis.ProcessHook {
	return func(_ context.Context, cmd goredis.Cmder) error {
		switch c := cmd.(type) {
		case *goredis.GeoSearchLocationCmd:
			if h.searchErr != nil {
				c.SetErr(h.searchErr)

				return h.searchErr
			}
			c.SetVal(h.locations)
		case *goredis.SliceCmd:
			args := c.Args()
			vals := make([]any, 0, len(args)-2)
			for _, arg := range args[2:] {
				field := fmt.Sprint(arg)
				h.hmgetFields = append(h.hmgetFields, field)
				if payload, ok := h.payloads[field]; ok {
					vals = append(vals, payload)
				} else {
					vals = append(vals, nil)
				}
			}
			c.SetVal(vals)
		default:
			return fmt.Errorf("unexpected command %s", cmd.Name())
		}

		return nil
	}
}

func (h *scriptedRedis) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

func newScriptedProvider(t *testing.T, script *scriptedRedis) *Provider {
	t.Helper()

	p := newOfflineProvider(t, nil)
	p.client.AddHook(script)

	return p
}

func TestSearch_RecheckAndPayloadAlignment(t *testing.T) {
	center := entity.GeoPoint{Latitude: 25.0340, Longitude: 121.5645}
	near := entity.Spot{ID: "near", DisplayName: "Near", Location: entity.GeoPoint{Latitude: 25.0345, Longitude: 121.5650}}
	payload, err := geoquery.EncodePayload(near)
	require.NoError(t, err)

	script := &scriptedRedis{
		locations: []goredis.GeoLocation{
			{Name: "near", Latitude: 25.0345, Longitude: 121.5650},
			{Name: "no-payload", Latitude: 25.0330, Longitude: 121.5645},
			// About 1.1km east: GEOSEARCH may return it, the circle does not hold it.
			{Name: "past-edge", Latitude: 25.0340, Longitude: 121.5760},
		},
		payloads: map[string]string{"near": string(payload), "past-edge": "{}"},
	}
	p := newScriptedProvider(t, script)

	snapshot, err := p.search(context.Background(), service.GeoQuery{Center: center, RadiusKm: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"near", "no-payload"}, script.hmgetFields)
	require.Len(t, snapshot.Entries, 2)
	assert.Equal(t, "near", snapshot.Entries[0].ID)
	assert.JSONEq(t, string(payload), string(snapshot.Entries[0].Payload))
	assert.Equal(t, "no-payload", snapshot.Entries[1].ID)
	assert.Nil(t, snapshot.Entries[1].Payload)
}

func TestSearch_EmptyAfterRecheckSkipsPayloads(t *testing.T) {
	script := &scriptedRedis{
		locations: []goredis.GeoLocation{{Name: "past-edge", Latitude: 25.0340, Longitude: 121.5760}},
	}
	p := newScriptedProvider(t, script)

	snapshot, err := p.search(context.Background(), service.GeoQuery{
		Center:   entity.GeoPoint{Latitude: 25.0340, Longitude: 121.5645},
		RadiusKm: 1,
	})
	require.NoError(t, err)

	assert.Empty(t, snapshot.Entries)
	assert.Empty(t, script.hmgetFields)
}

func TestSearch_GeoSearchFailure(t *testing.T) {
	boom := errors.New("connection reset")
	p := newScriptedProvider(t, &scriptedRedis{searchErr: boom})

	_, err := p.search(context.Background(), service.GeoQuery{
		Center:   entity.GeoPoint{Latitude: 25.0340, Longitude: 121.5645},
		RadiusKm: 1,
	})

	require.ErrorIs(t, err, boom)
}
