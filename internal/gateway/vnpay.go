package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"novelpay/internal/config"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ============================================================================
// VNPAY 跳转支付
// ============================================================================
//
// VNPAY 的签名方式：参数按 key 字典序排序，逐项 URL 编码拼成
// query string，对整串做 HMAC-SHA512。出站签名和入站验签必须使用
// 完全相同的编码规则，任何一个特殊字符（比如订单描述里的越南语
// 声调符号）编码不一致都会导致验签失败，所以订单描述在签名前先做
// 去声调和字符白名单过滤。

const (
	vnpVersion       = "2.1.0"
	vnpCommand       = "pay"
	vnpCurrCode      = "VND"
	vnpLocale        = "vn"
	vnpOrderType     = "topup"
	vnpHashType      = "HMACSHA512"
	vnpDateFormat    = "20060102150405" // yyyyMMddHHmmss
	defaultOrderInfo = "Nap xu"
)

const (
	// VNPAY 返回码
	VNPayCodeSuccess  = "00" // 交易成功
	VNPayCodeCanceled = "24" // 用户主动取消
)

// vnpLocation VNPAY 要求创建时间使用固定 UTC+7
var vnpLocation = time.FixedZone("GMT+7", 7*60*60)

type VNPayGateway struct {
	tmnCode    string
	hashSecret string
	payURL     string
	returnURL  string
	now        func() time.Time
}

// NewVNPayGateway 商户号、密钥、支付地址、回跳地址缺一不可
func NewVNPayGateway(cfg *config.VNPayConfig) (*VNPayGateway, error) {
	if cfg.TmnCode == "" || cfg.HashSecret == "" || cfg.PayURL == "" || cfg.ReturnURL == "" {
		return nil, ErrConfigMissing
	}
	return &VNPayGateway{
		tmnCode:    cfg.TmnCode,
		hashSecret: cfg.HashSecret,
		payURL:     cfg.PayURL,
		returnURL:  cfg.ReturnURL,
		now:        time.Now,
	}, nil
}

// BuildPayURL 构造跳转支付地址
// amountVnd 为整数 VND，协议要求金额字段放大 100 倍
func (g *VNPayGateway) BuildPayURL(amountVnd int64, txnRef, orderInfo, clientIP string) (string, error) {
	if amountVnd <= 0 {
		return "", ErrInvalidParam
	}
	if txnRef == "" {
		return "", ErrInvalidParam
	}

	params := map[string]string{
		"vnp_Version":    vnpVersion,
		"vnp_Command":    vnpCommand,
		"vnp_TmnCode":    g.tmnCode,
		"vnp_Amount":     strconv.FormatInt(amountVnd*100, 10),
		"vnp_CurrCode":   vnpCurrCode,
		"vnp_TxnRef":     txnRef,
		"vnp_OrderInfo":  SanitizeOrderInfo(orderInfo),
		"vnp_OrderType":  vnpOrderType,
		"vnp_Locale":     vnpLocale,
		"vnp_ReturnUrl":  g.returnURL,
		"vnp_IpAddr":     NormalizeClientIP(clientIP),
		"vnp_CreateDate": g.now().In(vnpLocation).Format(vnpDateFormat),
	}

	signData := encodeSorted(params)
	secureHash := g.sign(signData)

	// 签名和签名类型追加在签名数据之外
	return g.payURL + "?" + signData +
		"&vnp_SecureHashType=" + vnpHashType +
		"&vnp_SecureHash=" + secureHash, nil
}

// VerifyReturn 校验回跳/IPN 报文
// 剔除两个哈希字段后按与出站一致的规则重算 HMAC，再比对报文携带的值
func (g *VNPayGateway) VerifyReturn(params map[string]string) (*Result, error) {
	receivedHash := params["vnp_SecureHash"]
	if receivedHash == "" {
		return nil, ErrInvalidSignature
	}

	filtered := make(map[string]string, len(params))
	for k, v := range params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		filtered[k] = v
	}

	expected := g.sign(encodeSorted(filtered))
	// TODO: 换成 hmac.Equal 做常量时间比较，现网关文档示例为明文比对
	if expected != receivedHash {
		return nil, ErrInvalidSignature
	}

	rawAmount, err := strconv.ParseInt(params["vnp_Amount"], 10, 64)
	if err != nil {
		return nil, ErrInvalidParam
	}

	result := &Result{
		TxnRef:    params["vnp_TxnRef"],
		AmountVnd: rawAmount / 100,
		Code:      params["vnp_ResponseCode"],
	}

	switch result.Code {
	case VNPayCodeSuccess:
		result.Status = ResultSuccess
	case VNPayCodeCanceled:
		result.Status = ResultCanceled
	default:
		result.Status = ResultFailed
	}

	return result, nil
}

func (g *VNPayGateway) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(g.hashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// encodeSorted 按 key 字典序排序后逐项 URL 编码拼接
// 出站签名和入站验签共用，保证编码规则只有一份
func encodeSorted(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

var orderInfoAllowed = regexp.MustCompile(`[^0-9A-Za-z ]+`)

// SanitizeOrderInfo 订单描述净化
// NFD 分解剔除组合声调符号 + đ/Đ 映射 + 字符白名单，净化后为空时使用固定占位串
// Transformer 链有内部状态，不能做成包级变量复用
func SanitizeOrderInfo(s string) string {
	remover := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(remover, s)
	if err != nil {
		out = s
	}
	out = strings.NewReplacer("đ", "d", "Đ", "D").Replace(out)
	out = orderInfoAllowed.ReplaceAllString(out, "")
	out = strings.Join(strings.Fields(out), " ")
	if out == "" {
		return defaultOrderInfo
	}
	return out
}

// NormalizeClientIP 把客户端地址收敛成 IPv4 字符串
// 回环和无法表示成 IPv4 的地址统一记为 127.0.0.1
func NormalizeClientIP(raw string) string {
	host := raw
	if h, _, err := net.SplitHostPort(raw); err == nil {
		host = h
	}

	ip := net.ParseIP(strings.TrimSpace(host))
	if ip == nil || ip.IsLoopback() {
		return "127.0.0.1"
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return "127.0.0.1"
}
