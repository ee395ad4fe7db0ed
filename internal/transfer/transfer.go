// Package transfer attaches file-transfer capability to an already
// established connection. SFTP is preferred; SCP is the fallback for hosts
// without an SFTP subsystem.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/pkg/sftp"

	"sshFleet/internal/connection"
)

// Progress reports transfer state to the UI.
type Progress struct {
	FileName         string
	TotalBytes       int64
	TransferredBytes int64
	StartTime        time.Time
}

// Client wraps one SFTP session over a live connection.
type Client struct {
	sftp *sftp.Client
}

// Attach opens an SFTP session over the connection. The connection stays
// owned by its session; closing the transfer client never closes it.
func Attach(conn *connection.Conn) (*Client, error) {
	raw := conn.Raw()
	if raw == nil {
		return nil, fmt.Errorf("connection has no ssh transport")
	}
	client, err := sftp.NewClient(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to open sftp session: %w", err)
	}
	return &Client{sftp: client}, nil
}

func (c *Client) Close() error {
	return c.sftp.Close()
}

// Upload copies a local file to the remote path, streaming progress.
func (c *Client) Upload(localPath, remotePath string, progress chan<- Progress) error {
	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}

	remote, err := c.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remote.Close()

	return copyWithProgress(remote, local, filepath.Base(localPath), info.Size(), progress)
}

// Download copies a remote file to the local path, streaming progress.
func (c *Client) Download(remotePath, localPath string, progress chan<- Progress) error {
	remote, err := c.sftp.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer remote.Close()

	info, err := remote.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat remote file: %w", err)
	}

	local, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer local.Close()

	return copyWithProgress(local, remote, filepath.Base(remotePath), info.Size(), progress)
}

// List reads a remote directory.
func (c *Client) List(remotePath string) ([]os.FileInfo, error) {
	entries, err := c.sftp.ReadDir(remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", remotePath, err)
	}
	return entries, nil
}

func copyWithProgress(dst io.Writer, src io.Reader, name string, total int64, progress chan<- Progress) error {
	p := Progress{FileName: name, TotalBytes: total, StartTime: time.Now()}
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write failed: %w", werr)
			}
			p.TransferredBytes += int64(n)
			if progress != nil {
				select {
				case progress <- p:
				default:
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
	}
}

// UploadSCP pushes a file over SCP for hosts without an SFTP subsystem.
func UploadSCP(ctx context.Context, conn *connection.Conn, localPath, remotePath string) error {
	raw := conn.Raw()
	if raw == nil {
		return fmt.Errorf("connection has no ssh transport")
	}
	client, err := scp.NewClientBySSH(raw)
	if err != nil {
		return fmt.Errorf("failed to create scp client: %w", err)
	}
	defer client.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}

	if err := client.Copy(ctx, local, remotePath, "0644", info.Size()); err != nil {
		return fmt.Errorf("scp copy failed: %w", err)
	}
	return nil
}
