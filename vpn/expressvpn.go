package vpn

import (
	"errors"
	"log"
	"os/exec"
	"strings"
	"time"
)

var (
	ErrVPNNotConnected = errors.New("VPN not connected")
	ErrVPNConnectFail  = errors.New("failed to connect VPN")
)

type Config struct {
	AutoConnect bool
	Region      string
}

// ExpressVPN shells out to the local client. Used as the escalation path
// when a source keeps blocking every proxy in the pool.
type ExpressVPN struct {
	cfg *Config
}

func NewExpressVPN(cfg *Config) *ExpressVPN {
	return &ExpressVPN{cfg: cfg}
}

func (v *ExpressVPN) IsConnected() bool {
	out, err := exec.Command("expressvpnctl", "status").Output()
	if err != nil {
		return false
	}
	status := strings.ToLower(string(out))
	return strings.Contains(status, "connected") && !strings.Contains(status, "disconnected")
}

func (v *ExpressVPN) Connect() error {
	if v.IsConnected() {
		return nil
	}

	if !v.cfg.AutoConnect {
		return ErrVPNNotConnected
	}

	region := v.cfg.Region
	if region == "" {
		region = "smart"
	}

	cmd := exec.Command("expressvpnctl", "connect", region)
	if err := cmd.Run(); err != nil {
		return ErrVPNConnectFail
	}

	for i := 0; i < 30; i++ {
		time.Sleep(time.Second)
		if v.IsConnected() {
			return nil
		}
	}

	return ErrVPNConnectFail
}

func (v *ExpressVPN) EnsureConnected() error {
	if v.IsConnected() {
		return nil
	}
	return v.Connect()
}

func (v *ExpressVPN) Disconnect() error {
	return exec.Command("expressvpnctl", "disconnect").Run()
}

// RotateIP reconnects to get a fresh exit address. Only attempted when
// auto-connect is on; a manually managed tunnel is left alone.
func (v *ExpressVPN) RotateIP() error {
	if !v.cfg.AutoConnect {
		return ErrVPNNotConnected
	}
	log.Printf("[vpn] rotating exit IP")
	if err := v.Disconnect(); err != nil {
		log.Printf("[vpn] disconnect before rotate failed (continuing): %v", err)
	}
	time.Sleep(2 * time.Second)
	return v.Connect()
}

func (v *ExpressVPN) GetStatus() (string, error) {
	out, err := exec.Command("expressvpnctl", "status").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
