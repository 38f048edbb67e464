/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRateUnmarshalText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Rate
		wantErr bool
	}{
		{name: "per second", text: "10/s", want: Rate{Count: 10, Duration: time.Second}},
		{name: "per minute", text: "100/m", want: Rate{Count: 100, Duration: time.Minute}},
		{name: "per hour", text: "1000/h", want: Rate{Count: 1000, Duration: time.Hour}},
		{name: "empty means zero rate", text: "", want: Rate{}},
		{name: "missing duration", text: "10", wantErr: true},
		{name: "count is not a number", text: "ten/s", wantErr: true},
		{name: "unknown duration unit", text: "10/d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Rate
			err := r.UnmarshalText([]byte(tt.text))
			if tt.wantErr {
				require.EqualError(t, err,
					`incorrect format for rate "`+tt.text+`", should be N/(s|m|h), for example 10/s, 100/m, 1000/h`)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, r)
		})
	}
}

func TestRateUnmarshalYAMLAndJSON(t *testing.T) {
	var fromYAML struct {
		Rate Rate `yaml:"rate"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`rate: "100/m"`), &fromYAML))
	require.Equal(t, Rate{Count: 100, Duration: time.Minute}, fromYAML.Rate)

	var fromJSON struct {
		Rate Rate `json:"rate"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"rate": "10/s"}`), &fromJSON))
	require.Equal(t, Rate{Count: 10, Duration: time.Second}, fromJSON.Rate)
}

func TestRateString(t *testing.T) {
	require.Equal(t, "10/s", Rate{Count: 10, Duration: time.Second}.String())
	require.Equal(t, "100/m", Rate{Count: 100, Duration: time.Minute}.String())
	require.Equal(t, "1000/h", Rate{Count: 1000, Duration: time.Hour}.String())
	require.Equal(t, "", Rate{}.String())

	// Durations without a short form keep time.Duration formatting.
	require.Equal(t, "5/2s", Rate{Count: 5, Duration: 2 * time.Second}.String())
}

func TestRateMarshalRoundTrip(t *testing.T) {
	in := struct {
		Rate Rate `json:"rate"`
	}{Rate: Rate{Count: 42, Duration: time.Minute}}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"rate": "42/m"}`, string(data))

	var out struct {
		Rate Rate `json:"rate"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, in.Rate, out.Rate)
}

func TestRatePerSecond(t *testing.T) {
	require.InDelta(t, 10, Rate{Count: 10, Duration: time.Second}.PerSecond(), 0.000001)
	require.InDelta(t, 1, Rate{Count: 60, Duration: time.Minute}.PerSecond(), 0.000001)
	require.InDelta(t, 0.5, Rate{Count: 1800, Duration: time.Hour}.PerSecond(), 0.000001)
	require.Equal(t, float64(0), Rate{}.PerSecond())
}
