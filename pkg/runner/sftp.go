package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod is the SSH authentication used by the SFTP spool.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// SFTPConfig configures a remote spool.
type SFTPConfig struct {
	Host string `mapstructure:"host"`
	// Port is the SSH port (default: 22)
	Port       int        `mapstructure:"port"`
	User       string     `mapstructure:"user"`
	AuthMethod AuthMethod `mapstructure:"auth_method"`
	Password   string     `mapstructure:"password"`

	PrivateKeyPath       string `mapstructure:"private_key_path"`
	PrivateKeyPassphrase string `mapstructure:"private_key_passphrase"`

	// KnownHostsPath is checked when StrictHostKeyChecking is set.
	KnownHostsPath        string `mapstructure:"known_hosts_path"`
	StrictHostKeyChecking bool   `mapstructure:"strict_host_key_checking"`

	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`

	// Root is the spool directory on the remote host.
	Root string `mapstructure:"root"`
}

// DefaultSFTPConfig returns a config with key authentication and strict host
// key checking.
func DefaultSFTPConfig(host, user, root string) SFTPConfig {
	return SFTPConfig{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		Root:                  root,
	}
}

// Validate checks the config.
func (c SFTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Root == "" || !path.IsAbs(c.Root) {
		return fmt.Errorf("spool root must be an absolute path")
	}
	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private key path is required for key authentication")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	return nil
}

// Address returns host:port.
func (c SFTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClientConfig builds the SSH client config.
func (c SFTPConfig) ClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	switch c.AuthMethod {
	case AuthMethodPassword:
		auth = append(auth, ssh.Password(c.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}))
	case AuthMethodKey:
		key, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKey = cb
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// TransportError is a failure talking to the remote spool.
type TransportError struct {
	Op          string
	Err         error
	IsTemporary bool
	IsAuthError bool
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether a retry may succeed.
func (e *TransportError) Temporary() bool { return e.IsTemporary }

// SFTPSpool is a Spool on a remote host reached over SSH.
type SFTPSpool struct {
	logger zerolog.Logger
	root   string
	conn   *ssh.Client
	client *sftp.Client
}

// DialSFTP connects to the remote spool and creates its root.
func DialSFTP(ctx context.Context, logger zerolog.Logger, cfg SFTPConfig) (*SFTPSpool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sftp config: %w", err)
	}
	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	type dialed struct {
		conn *ssh.Client
		err  error
	}
	ch := make(chan dialed, 1)
	go func() {
		conn, err := ssh.Dial("tcp", cfg.Address(), clientConfig)
		ch <- dialed{conn, err}
	}()

	var conn *ssh.Client
	select {
	case <-ctx.Done():
		go func() {
			if d := <-ch; d.conn != nil {
				_ = d.conn.Close()
			}
		}()
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case d := <-ch:
		if d.err != nil {
			return nil, &TransportError{Op: "connect", Err: d.err, IsTemporary: true}
		}
		conn = d.conn
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "sftp-init", Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true}
	}
	s := &SFTPSpool{
		logger: logger.With().Str("component", "sftp-spool").Str("address", cfg.Address()).Logger(),
		root:   path.Clean(cfg.Root),
		conn:   conn,
		client: client,
	}
	if err := client.MkdirAll(s.root); err != nil {
		_ = s.Close()
		return nil, &TransportError{Op: "mkdir", Err: err}
	}
	s.logger.Info().Str("root", s.root).Msg("SFTP spool connected")
	return s, nil
}

func (s *SFTPSpool) abs(name string) string {
	return path.Join(s.root, clean(name))
}

func (s *SFTPSpool) MkdirAll(_ context.Context, dir string) error {
	if err := s.client.MkdirAll(s.abs(dir)); err != nil {
		return &TransportError{Op: "mkdir", Err: err, IsTemporary: true}
	}
	return nil
}

func (s *SFTPSpool) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.abs(name)
	tmp := path.Join(path.Dir(target), ".spool-"+uuid.NewString())
	f, err := s.client.Create(tmp)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote file: %w", err), IsTemporary: true}
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.client.Remove(tmp)
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to write remote file: %w", err), IsTemporary: true}
	}
	if err := f.Close(); err != nil {
		_ = s.client.Remove(tmp)
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	if err := s.client.PosixRename(tmp, target); err != nil {
		_ = s.client.Remove(tmp)
		return &TransportError{Op: "rename", Err: err, IsTemporary: true}
	}
	return nil
}

func (s *SFTPSpool) ReadFile(_ context.Context, name string) ([]byte, error) {
	f, err := s.client.Open(s.abs(name))
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err, IsTemporary: true}
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err, IsTemporary: true}
	}
	return data, nil
}

func (s *SFTPSpool) ReadDir(_ context.Context, dir string) ([]string, error) {
	infos, err := s.client.ReadDir(s.abs(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &TransportError{Op: "readdir", Err: err, IsTemporary: true}
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *SFTPSpool) ModTime(_ context.Context, name string) (time.Time, error) {
	fi, err := s.client.Stat(s.abs(name))
	if err != nil {
		return time.Time{}, &TransportError{Op: "stat", Err: err, IsTemporary: !errors.Is(err, fs.ErrNotExist)}
	}
	return fi.ModTime(), nil
}

func (s *SFTPSpool) Exists(_ context.Context, name string) (bool, error) {
	_, err := s.client.Stat(s.abs(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &TransportError{Op: "stat", Err: err, IsTemporary: true}
	}
	return true, nil
}

func (s *SFTPSpool) Remove(_ context.Context, name string) error {
	err := s.client.Remove(s.abs(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &TransportError{Op: "remove", Err: err, IsTemporary: true}
	}
	return nil
}

func (s *SFTPSpool) RemoveAll(ctx context.Context, dir string) error {
	return s.removeAll(ctx, s.abs(dir))
}

func (s *SFTPSpool) removeAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fi, err := s.client.Lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &TransportError{Op: "remove", Err: err, IsTemporary: true}
	}
	if !fi.IsDir() {
		return s.client.Remove(p)
	}
	entries, err := s.client.ReadDir(p)
	if err != nil {
		return &TransportError{Op: "remove", Err: err, IsTemporary: true}
	}
	for _, e := range entries {
		if err := s.removeAll(ctx, path.Join(p, e.Name())); err != nil {
			return err
		}
	}
	if err := s.client.RemoveDirectory(p); err != nil {
		return &TransportError{Op: "remove", Err: err, IsTemporary: true}
	}
	return nil
}

// Close ends the SFTP session and the SSH connection.
func (s *SFTPSpool) Close() error {
	err := s.client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
