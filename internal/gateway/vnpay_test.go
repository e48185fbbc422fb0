package gateway

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"novelpay/internal/config"
)

const testHashSecret = "VNPAYTESTSECRET0123456789"

func newTestVNPay(t *testing.T) *VNPayGateway {
	t.Helper()
	gw, err := NewVNPayGateway(&config.VNPayConfig{
		TmnCode:    "TESTTMN1",
		HashSecret: testHashSecret,
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "http://localhost:8080/api/v1/payments/vnpay/return",
	})
	if err != nil {
		t.Fatalf("NewVNPayGateway: %v", err)
	}
	return gw
}

func TestNewVNPayGateway_ConfigMissing(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.VNPayConfig
	}{
		{"empty_all", config.VNPayConfig{}},
		{"no_secret", config.VNPayConfig{TmnCode: "T", PayURL: "u", ReturnURL: "r"}},
		{"no_tmn_code", config.VNPayConfig{HashSecret: "s", PayURL: "u", ReturnURL: "r"}},
		{"no_return_url", config.VNPayConfig{TmnCode: "T", HashSecret: "s", PayURL: "u"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVNPayGateway(&tt.cfg)
			if !errors.Is(err, ErrConfigMissing) {
				t.Fatalf("want ErrConfigMissing, got %v", err)
			}
		})
	}
}

func TestBuildPayURL_SignatureRoundTrip(t *testing.T) {
	gw := newTestVNPay(t)
	gw.now = func() time.Time {
		return time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	}

	rawURL, err := gw.BuildPayURL(20000, "TOP2024011512345678", "Nap 200 xu", "203.0.113.7")
	if err != nil {
		t.Fatalf("BuildPayURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()

	// 金额放大100倍，创建时间为 UTC+7
	if got := q.Get("vnp_Amount"); got != "2000000" {
		t.Errorf("vnp_Amount = %s, want 2000000", got)
	}
	if got := q.Get("vnp_CreateDate"); got != "20240115173000" {
		t.Errorf("vnp_CreateDate = %s, want 20240115173000", got)
	}
	if got := q.Get("vnp_IpAddr"); got != "203.0.113.7" {
		t.Errorf("vnp_IpAddr = %s", got)
	}
	if q.Get("vnp_SecureHash") == "" || q.Get("vnp_SecureHashType") != "HMACSHA512" {
		t.Fatalf("缺少签名字段: %s", rawURL)
	}

	// 出站参数按入站规则验签应当通过
	params := make(map[string]string)
	for k, vs := range q {
		params[k] = vs[0]
	}
	if _, err := gw.VerifyReturn(params); err != nil {
		t.Fatalf("VerifyReturn on outbound params: %v", err)
	}

	// 篡改任何一个字段都应当使签名失效
	params["vnp_Amount"] = "2000001"
	if _, err := gw.VerifyReturn(params); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered amount: want ErrInvalidSignature, got %v", err)
	}
}

func TestBuildPayURL_InvalidParams(t *testing.T) {
	gw := newTestVNPay(t)

	if _, err := gw.BuildPayURL(0, "TOP1", "x", "1.2.3.4"); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("zero amount: want ErrInvalidParam, got %v", err)
	}
	if _, err := gw.BuildPayURL(-100, "TOP1", "x", "1.2.3.4"); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("negative amount: want ErrInvalidParam, got %v", err)
	}
	if _, err := gw.BuildPayURL(1000, "", "x", "1.2.3.4"); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("empty txnRef: want ErrInvalidParam, got %v", err)
	}
}

func buildReturnParams(gw *VNPayGateway, txnRef string, amountVnd int64, responseCode string) map[string]string {
	params := map[string]string{
		"vnp_TmnCode":       "TESTTMN1",
		"vnp_TxnRef":        txnRef,
		"vnp_Amount":        strconv.FormatInt(amountVnd*100, 10),
		"vnp_ResponseCode":  responseCode,
		"vnp_TransactionNo": "14226112",
		"vnp_BankCode":      "NCB",
		"vnp_OrderInfo":     "Nap 200 xu",
		"vnp_PayDate":       "20240115173200",
	}
	params["vnp_SecureHash"] = gw.sign(encodeSorted(params))
	params["vnp_SecureHashType"] = "HMACSHA512"
	return params
}

func TestVerifyReturn(t *testing.T) {
	gw := newTestVNPay(t)

	tests := []struct {
		name       string
		mutate     func(map[string]string)
		wantErr    error
		wantStatus string
		wantCode   string
	}{
		{
			name:       "success_code_00",
			wantStatus: ResultSuccess,
			wantCode:   "00",
		},
		{
			name: "canceled_code_24",
			mutate: func(p map[string]string) {
				p["vnp_ResponseCode"] = "24"
				delete(p, "vnp_SecureHash")
				delete(p, "vnp_SecureHashType")
				p["vnp_SecureHash"] = gw.sign(encodeSorted(p))
			},
			wantStatus: ResultCanceled,
			wantCode:   "24",
		},
		{
			name: "failed_unknown_code",
			mutate: func(p map[string]string) {
				p["vnp_ResponseCode"] = "99"
				delete(p, "vnp_SecureHash")
				delete(p, "vnp_SecureHashType")
				p["vnp_SecureHash"] = gw.sign(encodeSorted(p))
			},
			wantStatus: ResultFailed,
			wantCode:   "99",
		},
		{
			name: "missing_hash",
			mutate: func(p map[string]string) {
				delete(p, "vnp_SecureHash")
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "tampered_txn_ref",
			mutate: func(p map[string]string) {
				p["vnp_TxnRef"] = "TOPother"
			},
			wantErr: ErrInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := buildReturnParams(gw, "TOP2024011512345678", 20000, "00")
			if tt.mutate != nil {
				tt.mutate(params)
			}

			result, err := gw.VerifyReturn(params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyReturn: %v", err)
			}
			if result.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", result.Status, tt.wantStatus)
			}
			if result.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", result.Code, tt.wantCode)
			}
			if result.AmountVnd != 20000 {
				t.Errorf("AmountVnd = %d, want 20000", result.AmountVnd)
			}
			if result.TxnRef != "TOP2024011512345678" {
				t.Errorf("TxnRef = %s", result.TxnRef)
			}
		})
	}
}

func TestSanitizeOrderInfo(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Nạp 200 xu vào tài khoản", "Nap 200 xu vao tai khoan"},
		{"Đặng Văn đồng", "Dang Van dong"},
		{"Nap 100 xu", "Nap 100 xu"},
		{"abc-123_x!@#", "abc123x"},
		{"   ", "Nap xu"},
		{"", "Nap xu"},
		{"!@#$%^&*", "Nap xu"},
		{"a   b  c", "a b c"},
	}

	for _, tt := range tests {
		if got := SanitizeOrderInfo(tt.in); got != tt.want {
			t.Errorf("SanitizeOrderInfo(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeClientIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.7", "203.0.113.7"},
		{"203.0.113.7:54321", "203.0.113.7"},
		{"::1", "127.0.0.1"},
		{"127.0.0.1", "127.0.0.1"},
		{"::ffff:203.0.113.7", "203.0.113.7"},
		{"2001:db8::1", "127.0.0.1"},
		{"[2001:db8::1]:443", "127.0.0.1"},
		{"not-an-ip", "127.0.0.1"},
		{"", "127.0.0.1"},
	}

	for _, tt := range tests {
		if got := NormalizeClientIP(tt.in); got != tt.want {
			t.Errorf("NormalizeClientIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeSorted(t *testing.T) {
	got := encodeSorted(map[string]string{
		"b": "2",
		"a": "1",
		"c": "x y",
	})
	want := "a=1&b=2&c=x+y"
	if got != want {
		t.Errorf("encodeSorted = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, "a=") {
		t.Errorf("字段未按字典序排序: %q", got)
	}
}
