package replies

import "testing"

func TestExtractOrderRef(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		want    string
		ok      bool
	}{
		{"order update reply", "Re: Order Update: PT-TBL-HYD", "PT-TBL-HYD", true},
		{"uuid wins over phrase", "Re: Order Update: PT-TBL-HYD (ref 4b3c9a1e-2f6d-4c8e-9a7b-1d2e3f4a5b6c)", "4b3c9a1e-2f6d-4c8e-9a7b-1d2e3f4a5b6c", true},
		{"bare uuid", "RE: 4B3C9A1E-2F6D-4C8E-9A7B-1D2E3F4A5B6C", "4B3C9A1E-2F6D-4C8E-9A7B-1D2E3F4A5B6C", true},
		{"order number", "Question about order number: PO-7781", "PO-7781", true},
		{"order hash", "Fwd: Order #PO-7781 shipped", "PO-7781", true},
		{"order id", "order id PO/2026/11", "PO/2026/11", true},
		{"trailing punctuation", "Re: Order Update: PO-55.", "PO-55", true},
		{"no reference", "Shipping delays this week", "", false},
		{"empty", "  ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractOrderRef(tc.subject)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("ExtractOrderRef(%q) = %q, %v; want %q, %v", tc.subject, got, ok, tc.want, tc.ok)
			}
		})
	}
}
