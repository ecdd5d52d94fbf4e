package dpb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// frameMessage is the wire shape of every SSH-carried DPB message: a
// session id the peer must echo back, and the JSON content.
type frameMessage struct {
	Session int                    `json:"session"`
	Content map[string]interface{} `json:"content"`
}

// writeFrame writes a big-endian 32-bit length prefix followed by msg.
func writeFrame(w io.Writer, msg []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(msg)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

// readFrame reads one length-prefixed message from r.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// sshTransport carries framed JSON messages over a single long-lived SSH
// channel, matching an agent process on the far end that speaks the same
// framing. Responses may arrive out of order; those for a session nobody
// is waiting on yet are buffered for a later claimant.
type sshTransport struct {
	cfg Config

	connectOnce sync.Once
	connectErr  error
	client      *ssh.Client
	session     *ssh.Session
	stdin       io.WriteCloser
	stdout      io.Reader
	writeMu     sync.Mutex

	seqMu   sync.Mutex
	nextSeq int

	pendingMu sync.Mutex
	pending   map[int]chan frameMessage
	buffered  map[int]frameMessage
}

func newSSHTransport(cfg Config) *sshTransport {
	return &sshTransport{
		cfg:      cfg,
		pending:  make(map[int]chan frameMessage),
		buffered: make(map[int]frameMessage),
	}
}

func (t *sshTransport) connect() error {
	t.connectOnce.Do(func() {
		t.connectErr = t.dial()
	})
	return t.connectErr
}

func (t *sshTransport) dial() error {
	auth, err := sshAuthMethods(t.cfg)
	if err != nil {
		return err
	}

	hostKeyCallback, err := sshHostKeyCallback(t.cfg)
	if err != nil {
		return err
	}

	clientCfg := &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
		Config: ssh.Config{
			// Restrict ciphers to AEAD suites and MACs to SHA-2 encrypt-then-MAC.
			Ciphers: []string{"aes128-gcm@openssh.com", "aes256-gcm@openssh.com", "chacha20-poly1305@openssh.com"},
			MACs:    []string{"hmac-sha2-256-etm@openssh.com", "hmac-sha2-512-etm@openssh.com"},
		},
	}

	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return fmt.Errorf("dpb ssh dial %s: %w", addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return fmt.Errorf("dpb ssh session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		client.Close()
		return fmt.Errorf("dpb ssh stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		client.Close()
		return fmt.Errorf("dpb ssh stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		client.Close()
		return fmt.Errorf("dpb ssh shell: %w", err)
	}

	t.client = client
	t.session = session
	t.stdin = stdin
	t.stdout = stdout

	go t.readLoop()
	return nil
}

func (t *sshTransport) readLoop() {
	for {
		raw, err := readFrame(t.stdout)
		if err != nil {
			return
		}
		var msg frameMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		t.deliver(msg)
	}
}

func (t *sshTransport) deliver(msg frameMessage) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	if ch, ok := t.pending[msg.Session]; ok {
		delete(t.pending, msg.Session)
		ch <- msg
		return
	}
	t.buffered[msg.Session] = msg
}

func (t *sshTransport) Call(ctx context.Context, msgType string, payload map[string]interface{}) (map[string]interface{}, error) {
	if err := t.connect(); err != nil {
		return nil, err
	}

	content := map[string]interface{}{"type": msgType}
	for k, v := range payload {
		content[k] = v
	}

	t.seqMu.Lock()
	t.nextSeq++
	session := t.nextSeq
	t.seqMu.Unlock()

	t.pendingMu.Lock()
	if buffered, ok := t.buffered[session]; ok {
		delete(t.buffered, session)
		t.pendingMu.Unlock()
		return buffered.Content, nil
	}
	ch := make(chan frameMessage, 1)
	t.pending[session] = ch
	t.pendingMu.Unlock()

	encoded, err := json.Marshal(frameMessage{Session: session, Content: content})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", msgType, err)
	}

	t.writeMu.Lock()
	err = writeFrame(t.stdin, encoded)
	t.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("writing %s frame: %w", msgType, err)
	}

	select {
	case msg := <-ch:
		return msg.Content, nil
	case <-ctx.Done():
		t.pendingMu.Lock()
		delete(t.pending, session)
		t.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func sshAuthMethods(cfg Config) ([]ssh.AuthMethod, error) {
	if cfg.PrivateKeyPath != "" {
		keyBytes, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key %s: %w", cfg.PrivateKeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing private key %s: %w", cfg.PrivateKeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if cfg.Password != "" {
		return []ssh.AuthMethod{ssh.Password(cfg.Password)}, nil
	}
	return nil, fmt.Errorf("dpb ssh transport requires a password or private key")
}

func sshHostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", cfg.KnownHostsPath, err)
	}
	return callback, nil
}
