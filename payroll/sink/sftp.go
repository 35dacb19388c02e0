package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPConfig addresses a folder on an SFTP server.
type SFTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Folder   string

	// HostKey pins the server key in authorized_keys format. Empty accepts
	// any key.
	HostKey string

	Timeout time.Duration
}

// SFTP uploads payroll files over SSH. Each call opens its own
// connection; exports are rare and servers drop idle sessions.
type SFTP struct {
	cfg       SFTPConfig
	clientCfg *ssh.ClientConfig
}

func NewSFTP(cfg SFTPConfig) (*SFTP, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, errors.New("sftp sink: host and user are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.HostKey != "" {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
		if err != nil {
			return nil, fmt.Errorf("sftp sink: parse host key: %w", err)
		}
		hostKey = ssh.FixedHostKey(key)
	}

	return &SFTP{
		cfg: cfg,
		clientCfg: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
			HostKeyCallback: hostKey,
			Timeout:         cfg.Timeout,
		},
	}, nil
}

func (s *SFTP) Name() string { return "sftp" }

func (s *SFTP) Upload(ctx context.Context, name string, content []byte) error {
	return s.session(ctx, func(c *sftp.Client) error {
		target := objectPath(s.cfg.Folder, name)
		if dir := path.Dir(target); dir != "." {
			if err := c.MkdirAll(dir); err != nil {
				return fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
		f, err := c.Create(target)
		if err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := f.Write(content); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", target, err)
		}
		return f.Close()
	})
}

func (s *SFTP) Remove(ctx context.Context, name string) error {
	return s.session(ctx, func(c *sftp.Client) error {
		err := c.Remove(objectPath(s.cfg.Folder, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

// session dials, runs fn and tears the connection down. Cancelling ctx
// closes the connection under fn.
func (s *SFTP) session(ctx context.Context, fn func(*sftp.Client) error) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("sftp dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, s.clientCfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("sftp handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("sftp session: %w", err)
	}
	defer sc.Close()

	if err := fn(sc); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
