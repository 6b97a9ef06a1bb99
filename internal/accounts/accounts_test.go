package accounts

import (
	"context"
	"database/sql"
	"testing"
)

func TestRoundMoney(t *testing.T) {
	cases := map[float64]float64{
		7.5:      7.5,
		0.333:    0.33,
		2.675001: 2.68,
		1499.999: 1500,
	}
	for in, want := range cases {
		if got := RoundMoney(in); got != want {
			t.Errorf("RoundMoney(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestTransferRejectsBadInput(t *testing.T) {
	if err := Transfer(context.Background(), nil, 1, 2, 10, RefMatchStake, sql.NullInt64{}, ""); err == nil {
		t.Errorf("expected error for nil tx")
	}
}

func TestGetOrCreateAccountNilDB(t *testing.T) {
	if _, err := GetOrCreateAccount(context.Background(), nil, AccountEscrow, nil); err == nil {
		t.Errorf("expected error for nil db")
	}
}
