package natsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesKeyFilter(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		filter string
		want   bool
	}{
		{"wildcard matches under prefix", "instance.p1.1_2.1_2_1.1_2_1_1", "instance.p1.1_2.>", true},
		{"wildcard rejects other study", "instance.p1.1_3.1_3_1.1_3_1_1", "instance.p1.1_2.>", false},
		{"wildcard rejects other partition", "instance.p2.1_2.1_2_1.1_2_1_1", "instance.p1.>", false},
		{"bare wildcard matches everything", "watermark.p1", ">", true},
		{"exact filter matches", "schema.active", "schema.active", true},
		{"exact filter rejects sibling", "schema.active.old", "schema.active", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesKeyFilter(tt.key, tt.filter))
		})
	}
}
