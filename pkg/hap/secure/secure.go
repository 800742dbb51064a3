package secure

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/fastybird/hapbridge/pkg/hap/chacha20poly1305"
	"github.com/fastybird/hapbridge/pkg/hap/hkdf"
)

const (
	// PacketSizeMax is the max length of encrypted packets
	PacketSizeMax = 0x400

	VerifySize = 2
	NonceSize  = chacha20poly1305.NonceSize
	Overhead   = chacha20poly1305.Overhead

	BufferSize = VerifySize + PacketSizeMax + Overhead
)

// ErrSessionCompromised means frame can't be authenticated or nonce counter
// is exhausted. Connection can't be used anymore.
var ErrSessionCompromised = errors.New("secure: session compromised")

type Conn struct {
	conn net.Conn

	rd *bufio.Reader
	wr *bufio.Writer
	rb []byte // temporary reading buffer

	encryptKey []byte
	decryptKey []byte
	encryptCnt uint64
	decryptCnt uint64

	broken bool

	mx sync.Mutex // writing and keys
}

// Client wraps controller side of the connection
func Client(conn net.Conn, sharedKey []byte) (*Conn, error) {
	return newConn(conn, nil, sharedKey, true)
}

// Server wraps accessory side of the connection. Reader rd is the one used
// for plain requests, so nothing buffered is lost.
func Server(conn net.Conn, rd *bufio.Reader, sharedKey []byte) (*Conn, error) {
	return newConn(conn, rd, sharedKey, false)
}

func newConn(conn net.Conn, rd *bufio.Reader, sharedKey []byte, isClient bool) (*Conn, error) {
	if rd == nil {
		rd = bufio.NewReaderSize(conn, BufferSize)
	}

	c := &Conn{
		conn: conn,
		rd:   rd,
		wr:   bufio.NewWriterSize(conn, BufferSize),
	}

	if err := c.setKeys(sharedKey, isClient); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Conn) setKeys(sharedKey []byte, isClient bool) error {
	key1, err := hkdf.Sha512(sharedKey, "Control-Salt", "Control-Read-Encryption-Key")
	if err != nil {
		return err
	}

	key2, err := hkdf.Sha512(sharedKey, "Control-Salt", "Control-Write-Encryption-Key")
	if err != nil {
		return err
	}

	// accessory writes with Read key, controller writes with Write key
	if isClient {
		c.encryptKey, c.decryptKey = key2, key1
	} else {
		c.encryptKey, c.decryptKey = key1, key2
	}

	c.encryptCnt = 0
	c.decryptCnt = 0
	return nil
}

// Rekey replaces session keys after repeated pair-verify and restarts both
// counters. Frames sealed with the previous keys are rejected after that.
// Server side calls it from the reading goroutine with Lock held.
func (c *Conn) Rekey(sharedKey []byte, isClient bool) error {
	c.rb = nil
	return c.setKeys(sharedKey, isClient)
}

// Lock holds writing, so response and Rekey can't be split by other writer
func (c *Conn) Lock() {
	c.mx.Lock()
}

func (c *Conn) Unlock() {
	c.mx.Unlock()
}

func (c *Conn) Read(b []byte) (n int, err error) {
	// something in reading buffer
	if len(c.rb) > 0 {
		n = copy(b, c.rb)
		c.rb = c.rb[n:]
		return
	}

	if c.broken {
		return 0, ErrSessionCompromised
	}

	verify := make([]byte, VerifySize) // verify = plain message size
	if _, err = io.ReadFull(c.rd, verify); err != nil {
		return
	}

	n = int(binary.LittleEndian.Uint16(verify))
	if n > PacketSizeMax {
		c.broken = true
		return 0, fmt.Errorf("%w: frame size %d", ErrSessionCompromised, n)
	}

	ciphertext := make([]byte, n+Overhead)
	if _, err = io.ReadFull(c.rd, ciphertext); err != nil {
		return 0, err
	}

	if c.decryptCnt == math.MaxUint64 {
		c.broken = true
		return 0, fmt.Errorf("%w: nonce overflow", ErrSessionCompromised)
	}

	nonce := chacha20poly1305.Counter(c.decryptCnt)
	c.decryptCnt++

	plaintext, err := chacha20poly1305.DecryptAndVerify(c.decryptKey, make([]byte, 0, n), nonce, ciphertext, verify)
	if err != nil {
		c.broken = true
		return 0, fmt.Errorf("%w: %v", ErrSessionCompromised, err)
	}

	n = copy(b, plaintext)
	if n < len(plaintext) {
		c.rb = plaintext[n:]
	}
	return
}

func (c *Conn) Write(b []byte) (n int, err error) {
	c.mx.Lock()
	n, err = c.write(b)
	c.mx.Unlock()
	return
}

// WriteLocked is Write for a caller that holds Lock
func (c *Conn) WriteLocked(b []byte) (int, error) {
	return c.write(b)
}

func (c *Conn) write(b []byte) (n int, err error) {
	var ciphertext []byte
	var verify = make([]byte, VerifySize)

	for len(b) > 0 {
		size := len(b)
		if size > PacketSizeMax {
			size = PacketSizeMax
		}

		if c.encryptCnt == math.MaxUint64 {
			return n, fmt.Errorf("%w: nonce overflow", ErrSessionCompromised)
		}

		binary.LittleEndian.PutUint16(verify, uint16(size))
		if _, err = c.wr.Write(verify); err != nil {
			return
		}

		nonce := chacha20poly1305.Counter(c.encryptCnt)
		c.encryptCnt++

		if cap(ciphertext) < size+Overhead {
			ciphertext = make([]byte, size+Overhead)
		}

		ciphertext, err = chacha20poly1305.EncryptAndSeal(c.encryptKey, ciphertext[:0], nonce, b[:size], verify)
		if err != nil {
			return
		}

		if _, err = c.wr.Write(ciphertext); err != nil {
			return
		}

		b = b[size:]
		n += size
	}

	err = c.wr.Flush()
	return
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
