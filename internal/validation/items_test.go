package validation

import (
	"testing"

	"github.com/mmeshcher/beershop-system/internal/model"
)

func TestNormalizeLineItems(t *testing.T) {
	tests := []struct {
		name    string
		items   []model.LineItem
		want    []model.LineItem
		wantErr bool
	}{
		{
			name: "single item",
			items: []model.LineItem{
				{ProductID: "p1", Quantity: 3},
			},
			want: []model.LineItem{
				{ProductID: "p1", Quantity: 3},
			},
		},
		{
			name: "duplicates coalesced preserving order",
			items: []model.LineItem{
				{ProductID: "p1", Quantity: 2},
				{ProductID: "p2", Quantity: 1},
				{ProductID: "p1", Quantity: 3},
			},
			want: []model.LineItem{
				{ProductID: "p1", Quantity: 5},
				{ProductID: "p2", Quantity: 1},
			},
		},
		{
			name: "coalesced quantity overflows int32",
			items: []model.LineItem{
				{ProductID: "p1", Quantity: 1500000000},
				{ProductID: "p1", Quantity: 1500000000},
			},
			wantErr: true,
		},
		{
			name: "large quantities below overflow",
			items: []model.LineItem{
				{ProductID: "p1", Quantity: 1000000000},
				{ProductID: "p1", Quantity: 1000000000},
			},
			want: []model.LineItem{
				{ProductID: "p1", Quantity: 2000000000},
			},
		},
		{
			name:    "empty request",
			items:   nil,
			wantErr: true,
		},
		{
			name: "zero quantity",
			items: []model.LineItem{
				{ProductID: "p1", Quantity: 0},
			},
			wantErr: true,
		},
		{
			name: "negative quantity",
			items: []model.LineItem{
				{ProductID: "p1", Quantity: -2},
			},
			wantErr: true,
		},
		{
			name: "missing product id",
			items: []model.LineItem{
				{ProductID: "", Quantity: 1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeLineItems(tt.items)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got items %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeLineItems error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d items, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("item %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
