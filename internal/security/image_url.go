package security

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/afrivac/internal/model"
)

// blockedNetworks は画像URLとして受け付けないネットワーク範囲。
// safeurlはDial時にDNS解決後のIPも検証するが、保存前に静的にも弾く。
var blockedNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, network)
	}
}

// ImageURLValidator はプロフィール画像や目的地のカバー画像のURLを検証する。
type ImageURLValidator interface {
	// Validate はURLを検証し、問題があればAPIErrorを返す。
	Validate(ctx context.Context, rawURL string) error
}

// ImageURLConfig は画像URL検証の設定。
type ImageURLConfig struct {
	// Probe がtrueの場合、SSRF防止クライアントでHEADリクエストを送り、画像であることを確認する。
	Probe   bool
	Timeout time.Duration
}

// imageURLValidator はImageURLValidatorの実装。
type imageURLValidator struct {
	probe  bool
	client *http.Client
}

// NewImageURLValidator はImageURLValidatorを生成する。
// 疎通確認用のクライアントはsafeurlで構築し、プライベートIP・ループバック・
// リンクローカル・メタデータIPへの接続とhttps以外のスキームを拒否する。
func NewImageURLValidator(cfg ImageURLConfig) ImageURLValidator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(cfg.Timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return &imageURLValidator{
		probe:  cfg.Probe,
		client: safeurl.Client(config).Client,
	}
}

// Validate はURLの形式を静的に検証し、設定されていればHEADで画像かを確認する。
func (v *imageURLValidator) Validate(ctx context.Context, rawURL string) error {
	parsed, err := staticCheck(rawURL)
	if err != nil {
		return err
	}
	if !v.probe {
		return nil
	}
	return v.probeImage(ctx, parsed.String())
}

// staticCheck はDNS解決を伴わない検証を行う。
func staticCheck(rawURL string) (*url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, model.NewInvalidURLError("URLが空です")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, model.NewInvalidURLError("URLを解析できません")
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return nil, model.NewInvalidURLError("httpsのURLのみ指定できます")
	}
	if parsed.User != nil {
		return nil, model.NewInvalidURLError("認証情報を含むURLは指定できません")
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, model.NewInvalidURLError("ホストがありません")
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, model.NewSSRFBlockedError()
		}
		return parsed, nil
	}
	if isBlockedHostname(host) {
		return nil, model.NewSSRFBlockedError()
	}
	return parsed, nil
}

// probeImage はHEADリクエストでContent-Typeがimage/*であることを確認する。
func (v *imageURLValidator) probeImage(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return model.NewInvalidURLError("URLを解析できません")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return model.NewInvalidURLError("画像を取得できません")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.NewInvalidURLError(fmt.Sprintf("画像を取得できません（HTTP %d）", resp.StatusCode))
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return model.NewInvalidURLError("画像のURLではありません")
	}
	return nil
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを返す。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHostname はローカルホストを指すホスト名かを返す。
func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	return lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal")
}
