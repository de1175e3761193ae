package extract

import "testing"

func TestBankResolver_Resolve(t *testing.T) {
	banks, err := DefaultBankResolver()
	if err != nil {
		t.Fatalf("failed to load bank rules: %v", err)
	}

	tests := []struct {
		app    string
		suffix string
		want   string
	}{
		{"com.dbs.something", "1234", "DBS"},
		{"...walletnfcrel...", "2468", "GP 2468"},
		{"com.google.android.apps.walletnfcrel", "", "GP "},
		{"COM.OCBC.MOBILE", "", "OCBC"},
		{"com.uob.mighty", "", "UOB"},
		{"com.posb.app", "", "POSB"},
		{"sg.com.gxs.app", "", "GXS"},
		{"com.chocolatefinance.app", "", "choco"},
		{"com.choco.card", "", "Choco"},
		{"com.whatsapp", "1234", ""},
		// dbs is checked before posb.
		{"com.dbs.posb", "", "DBS"},
	}

	for _, tc := range tests {
		t.Run(tc.app, func(t *testing.T) {
			if got := banks.Resolve(tc.app, tc.suffix); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseBankRules(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
	}{
		{"valid", `[{"marker":"maybank","label":"MAYBANK"}]`, 1, false},
		{"missing marker", `[{"label":"X"}]`, 0, true},
		{"missing label", `[{"marker":"x"}]`, 0, true},
		{"not json", `{`, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rules, err := ParseBankRules([]byte(tc.input))
			if (err != nil) != tc.wantErr {
				t.Fatalf("error: got %v, wantErr %v", err, tc.wantErr)
			}
			if len(rules) != tc.wantLen {
				t.Errorf("rules: got %d, want %d", len(rules), tc.wantLen)
			}
		})
	}
}

func TestNewBankResolver_LowercasesMarkers(t *testing.T) {
	banks := NewBankResolver([]BankRule{{Marker: "MayBank", Label: "MAYBANK"}})

	if got := banks.Resolve("com.maybank2u.app", ""); got != "MAYBANK" {
		t.Errorf("got %q, want %q", got, "MAYBANK")
	}
}
