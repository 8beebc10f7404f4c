package bloodbank

import (
	"math/big"
	"testing"

	xerrors "BloodBank-Chain/internal/errors"
)

func validDonation() DonationForm {
	return DonationForm{BloodType: "O+", DonorName: "Ada", Age: 30, Contact: "0123456789"}
}

func intPtr(v int) *int { return &v }

func validRequest() RequestForm {
	return RequestForm{
		BloodType:     "AB-",
		Units:         2,
		RecipientName: "Grace",
		Age:           intPtr(45),
		Contact:       "0123456789",
		Hospital:      "St. Mary",
		Reason:        "Surgery",
	}
}

func TestDonationFormValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*DonationForm)
		message string
	}{
		{"valid", func(*DonationForm) {}, ""},
		{"age lower bound", func(f *DonationForm) { f.Age = 17 }, ""},
		{"age upper bound", func(f *DonationForm) { f.Age = 70 }, ""},
		{"missing blood type", func(f *DonationForm) { f.BloodType = "" }, "Please select a blood type"},
		{"unknown blood type", func(f *DonationForm) { f.BloodType = "C+" }, "Please select a blood type"},
		{"missing name", func(f *DonationForm) { f.DonorName = "" }, "Please enter your name"},
		{"too young", func(f *DonationForm) { f.Age = 16 }, "Donor must be between 17 and 70 years old"},
		{"too old", func(f *DonationForm) { f.Age = 71 }, "Donor must be between 17 and 70 years old"},
		{"short contact", func(f *DonationForm) { f.Contact = "012345678" }, "Please enter a valid contact number"},
		{"first failure wins", func(f *DonationForm) {
			f.DonorName = ""
			f.Age = 5
		}, "Please enter your name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form := validDonation()
			tc.mutate(&form)
			err := form.Validate()
			if tc.message == "" {
				if err != nil {
					t.Fatalf("expected valid form, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected %q", tc.message)
			}
			if xerrors.MessageOf(err) != tc.message {
				t.Fatalf("expected %q, got %q", tc.message, xerrors.MessageOf(err))
			}
			if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
				t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
			}
		})
	}
}

func TestRequestFormValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*RequestForm)
		message string
	}{
		{"valid", func(*RequestForm) {}, ""},
		{"newborn recipient", func(f *RequestForm) { f.Age = intPtr(0) }, ""},
		{"zero units", func(f *RequestForm) { f.Units = 0 }, "Please enter a valid number of units"},
		{"missing recipient", func(f *RequestForm) { f.RecipientName = "" }, "Please enter recipient name"},
		{"missing age", func(f *RequestForm) { f.Age = nil }, "Please enter a valid age"},
		{"age over limit", func(f *RequestForm) { f.Age = intPtr(121) }, "Please enter a valid age"},
		{"negative age", func(f *RequestForm) { f.Age = intPtr(-1) }, "Please enter a valid age"},
		{"short contact", func(f *RequestForm) { f.Contact = "123" }, "Please enter a valid contact number"},
		{"missing hospital", func(f *RequestForm) { f.Hospital = "" }, "Please enter hospital name"},
		{"missing reason", func(f *RequestForm) { f.Reason = "" }, "Please enter reason for request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form := validRequest()
			tc.mutate(&form)
			err := form.Validate()
			if tc.message == "" {
				if err != nil {
					t.Fatalf("expected valid form, got %v", err)
				}
				return
			}
			if xerrors.MessageOf(err) != tc.message {
				t.Fatalf("expected %q, got %v", tc.message, err)
			}
		})
	}
}

func TestFormAmounts(t *testing.T) {
	t.Parallel()

	if validDonation().Amount().Cmp(big.NewInt(450)) != 0 {
		t.Fatalf("donation amount must be 450")
	}
	req := validRequest()
	req.Units = 3
	if req.Amount().Cmp(big.NewInt(1350)) != 0 {
		t.Fatalf("unexpected request amount %s", req.Amount())
	}
}
