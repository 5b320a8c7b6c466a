package sitekeeper

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"top-level access_token", `{"access_token":"tok-a"}`, "tok-a"},
		{"top-level token", `{"token":"tok-b"}`, "tok-b"},
		{"nested access_token", `{"data":{"access_token":"tok-c"}}`, "tok-c"},
		{"nested auth_token", `{"data":{"auth_token":"tok-d"}}`, "tok-d"},
		{"top-level wins over nested", `{"token":"tok-top","data":{"token":"tok-nested"}}`, "tok-top"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractToken(decodeJSON(t, tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing token errors", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"data":{}}`, `{"token":""}`, `[1,2]`} {
			_, err := extractToken(decodeJSON(t, body))
			assert.Error(t, err, "body: %s", body)
		}
	})
}

func TestPickScaleDevice(t *testing.T) {
	listing := `{"devices":[
		{"id":"cam-1","product_name":"Indoor Cam"},
		{"id":"scale-1","product_name":"Smart Scale P2 Pro","category":"Health"},
		{"id":"bulb-1","product_name":"Smart Bulb"}
	]}`

	t.Run("scores the scale highest", func(t *testing.T) {
		c := &EufyClient{}
		device, err := c.pickScaleDevice(decodeJSON(t, listing))
		require.NoError(t, err)
		assert.Equal(t, "scale-1", deviceID(device))
	})

	t.Run("forced device id wins", func(t *testing.T) {
		c := &EufyClient{DeviceID: "bulb-1"}
		device, err := c.pickScaleDevice(decodeJSON(t, listing))
		require.NoError(t, err)
		assert.Equal(t, "bulb-1", deviceID(device))
	})

	t.Run("forced device id not found errors", func(t *testing.T) {
		c := &EufyClient{DeviceID: "nope"}
		_, err := c.pickScaleDevice(decodeJSON(t, listing))
		assert.Error(t, err)
	})

	t.Run("bare array listing works", func(t *testing.T) {
		c := &EufyClient{}
		device, err := c.pickScaleDevice(decodeJSON(t,
			`[{"device_id":"scale-2","name":"Body Scale"}]`))
		require.NoError(t, err)
		assert.Equal(t, "scale-2", deviceID(device))
	})

	t.Run("numeric device ids keep their string form", func(t *testing.T) {
		device, ok := decodeJSON(t, `{"id":7.5,"name":"Body Scale"}`).(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "7.5", deviceID(device))

		device, ok = decodeJSON(t, `{"device_id":1234,"name":"Body Scale"}`).(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "1234", deviceID(device))
	})

	t.Run("empty listing errors", func(t *testing.T) {
		c := &EufyClient{}
		for _, body := range []string{`{}`, `[]`, `{"devices":[]}`} {
			_, err := c.pickScaleDevice(decodeJSON(t, body))
			assert.Error(t, err, "body: %s", body)
		}
	})
}

func TestToKilograms(t *testing.T) {
	tests := []struct {
		weight float64
		unit   string
		want   float64
	}{
		{60, "", 60},
		{60, "kg", 60},
		{60, "KG", 60},
		{132, "lb", 59.874192840000004},
		{132, "lbs", 59.874192840000004},
		{60000, "g", 60},
		{120, "jin", 60},
		{60, "stone?", 60},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, toKilograms(tt.weight, tt.unit), 1e-9,
			"weight=%v unit=%q", tt.weight, tt.unit)
	}
}

func TestParseMeasureTime(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   interface{}
	}{
		{"unix seconds", float64(want.Unix())},
		{"unix milliseconds", float64(want.UnixMilli())},
		{"digit string", "1714566600"},
		{"RFC3339", "2024-05-01T12:30:00Z"},
		{"RFC3339 with offset", "2024-05-01T14:30:00+02:00"},
		{"no zone means UTC", "2024-05-01T12:30:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseMeasureTime(tt.in)
			require.True(t, ok)
			assert.True(t, got.Equal(want), "got %v, want %v", got, want)
		})
	}

	t.Run("unparseable values", func(t *testing.T) {
		for _, in := range []interface{}{nil, "", "  ", "yesterday", true} {
			_, ok := parseMeasureTime(in)
			assert.False(t, ok, "in: %v", in)
		}
	})
}

func TestExtractLatestWeight(t *testing.T) {
	t.Run("newest measurement wins", func(t *testing.T) {
		data := `{"data":{"records":[
			{"weight":61.5,"unit":"kg","time":"2024-05-01T08:00:00Z"},
			{"weight":60.2,"unit":"kg","time":"2024-05-02T08:00:00Z"},
			{"weight":62.0,"unit":"kg","time":"2024-04-30T08:00:00Z"}
		]}}`
		m, err := extractLatestWeight(decodeJSON(t, data))
		require.NoError(t, err)
		assert.InDelta(t, 60.2, m.WeightKg, 1e-9)
		assert.Equal(t, time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC), m.MeasuredAt)
	})

	t.Run("units are converted", func(t *testing.T) {
		data := `[{"bodyWeight":"132.0","weightUnit":"lbs","measureTime":1714550400}]`
		m, err := extractLatestWeight(decodeJSON(t, data))
		require.NoError(t, err)
		assert.InDelta(t, 132*0.45359237, m.WeightKg, 1e-9)
	})

	t.Run("measurement without timestamp still counts", func(t *testing.T) {
		m, err := extractLatestWeight(decodeJSON(t, `{"weight_kg":59.9}`))
		require.NoError(t, err)
		assert.InDelta(t, 59.9, m.WeightKg, 1e-9)
		assert.True(t, m.MeasuredAt.IsZero())
	})

	t.Run("timestamp-less ties resolve deterministically", func(t *testing.T) {
		// Array order decides among siblings...
		data := `[{"weight":61.0},{"weight":62.0}]`
		for i := 0; i < 10; i++ {
			m, err := extractLatestWeight(decodeJSON(t, data))
			require.NoError(t, err)
			assert.InDelta(t, 61.0, m.WeightKg, 1e-9)
		}

		// ...and map children are walked in sorted key order.
		data = `{"b":{"weight":62.0},"a":{"weight":61.0}}`
		for i := 0; i < 10; i++ {
			m, err := extractLatestWeight(decodeJSON(t, data))
			require.NoError(t, err)
			assert.InDelta(t, 61.0, m.WeightKg, 1e-9)
		}
	})

	t.Run("no weight anywhere errors", func(t *testing.T) {
		_, err := extractLatestWeight(decodeJSON(t, `{"data":{"records":[{"steps":1200}]}}`))
		assert.Error(t, err)
	})
}

func decodeJSON(t *testing.T, s string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}
