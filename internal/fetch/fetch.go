// Package fetch 下载远程批次文件到数据库根目录。
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client 远程批次下载客户端
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建下载客户端
func NewClient(timeout time.Duration, retryCount int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Client{httpClient: client, logger: logger}
}

// Download 将远程文件下载到 destDir，返回本地路径。
// 文件名取 URL 路径的最后一段。
func (c *Client) Download(ctx context.Context, rawURL, destDir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid batch url `%s`: %w", rawURL, err)
	}
	fileName := path.Base(u.Path)
	if fileName == "" || fileName == "/" || fileName == "." {
		return "", fmt.Errorf("cannot derive file name from url `%s`", rawURL)
	}
	dest := filepath.Join(destDir, fileName)

	c.logger.Info("downloading batch",
		zap.String("url", rawURL),
		zap.String("dest", dest))

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to download `%s`: %w", rawURL, err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("failed to download `%s`: status %d", rawURL, resp.StatusCode())
	}

	return dest, nil
}
