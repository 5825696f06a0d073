package glacier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/glacier"
	"github.com/aws/aws-sdk-go/service/glacier/glacieriface"

	"github.com/phrazzld/coldstore/internal/config"
	"github.com/phrazzld/coldstore/internal/domain"
)

// inventoryLimit asks for every archive in one inventory.
const inventoryLimit = "999999999"

// Errors returned by the client.
var (
	// ErrNotFound is returned when the vault, job or upload does not exist.
	ErrNotFound = errors.New("remote resource not found")

	// ErrIncomplete is returned when the service answers without a field
	// the client depends on.
	ErrIncomplete = errors.New("incomplete response")
)

// Client talks to one account of the remote service.
type Client struct {
	api       glacieriface.GlacierAPI
	accountID string
}

// New builds a client from the glacier section of the configuration.
// Empty credentials fall back to the SDK's default chain.
func New(cfg config.GlacierConfig) (*Client, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewWithAPI(glacier.New(sess), cfg.AccountID), nil
}

// NewWithAPI wraps an existing service client. An empty account id means
// the account of the credentials.
func NewWithAPI(api glacieriface.GlacierAPI, accountID string) *Client {
	if accountID == "" {
		accountID = "-"
	}
	return &Client{api: api, accountID: accountID}
}

// InitiateInventoryJob starts an inventory retrieval of vaultName.
func (c *Client) InitiateInventoryJob(ctx context.Context, vaultName, format, description string) (string, error) {
	out, err := c.api.InitiateJobWithContext(ctx, &glacier.InitiateJobInput{
		AccountId: aws.String(c.accountID),
		VaultName: aws.String(vaultName),
		JobParameters: &glacier.JobParameters{
			Type:        aws.String("inventory-retrieval"),
			Format:      aws.String(format),
			Description: aws.String(description),
			InventoryRetrievalParameters: &glacier.InventoryRetrievalJobInput{
				Limit: aws.String(inventoryLimit),
			},
		},
	})
	if err != nil {
		return "", wrap(err, "initiate inventory job")
	}
	return required(out.JobId, "job id")
}

// InitiateArchiveJob starts the retrieval of one archive.
func (c *Client) InitiateArchiveJob(ctx context.Context, vaultName, archiveID string, tier domain.Tier) (string, error) {
	out, err := c.api.InitiateJobWithContext(ctx, &glacier.InitiateJobInput{
		AccountId: aws.String(c.accountID),
		VaultName: aws.String(vaultName),
		JobParameters: &glacier.JobParameters{
			Type:        aws.String("archive-retrieval"),
			ArchiveId:   aws.String(archiveID),
			Description: aws.String("Getting " + archiveID),
			Tier:        aws.String(string(tier)),
		},
	})
	if err != nil {
		return "", wrap(err, "initiate archive job")
	}
	return required(out.JobId, "job id")
}

// DescribeJob polls a job.
func (c *Client) DescribeJob(ctx context.Context, vaultName, jobID string) (domain.JobDescription, error) {
	out, err := c.api.DescribeJobWithContext(ctx, &glacier.DescribeJobInput{
		AccountId: aws.String(c.accountID),
		VaultName: aws.String(vaultName),
		JobId:     aws.String(jobID),
	})
	if err != nil {
		return domain.JobDescription{}, wrap(err, "describe job")
	}

	return domain.JobDescription{
		JobID:                aws.StringValue(out.JobId),
		Status:               domain.JobStatus(aws.StringValue(out.StatusCode)),
		StatusMessage:        aws.StringValue(out.StatusMessage),
		ArchiveSizeInBytes:   aws.Int64Value(out.ArchiveSizeInBytes),
		InventorySizeInBytes: aws.Int64Value(out.InventorySizeInBytes),
		TreeHash:             aws.StringValue(out.SHA256TreeHash),
	}, nil
}

// JobOutput streams a finished job's output. The caller closes it.
func (c *Client) JobOutput(ctx context.Context, vaultName, jobID string, rng domain.ByteRange) (io.ReadCloser, error) {
	in := &glacier.GetJobOutputInput{
		AccountId: aws.String(c.accountID),
		VaultName: aws.String(vaultName),
		JobId:     aws.String(jobID),
	}
	if !rng.IsZero() {
		in.Range = aws.String(OutputRange(rng))
	}

	out, err := c.api.GetJobOutputWithContext(ctx, in)
	if err != nil {
		return nil, wrap(err, "get job output")
	}
	if out.Body == nil {
		return nil, fmt.Errorf("%w: job output has no body", ErrIncomplete)
	}
	return out.Body, nil
}

// UploadArchive uploads body as a single archive.
func (c *Client) UploadArchive(ctx context.Context, vaultName, description, treeHash string, body io.ReadSeeker) (string, error) {
	out, err := c.api.UploadArchiveWithContext(ctx, &glacier.UploadArchiveInput{
		AccountId:          aws.String(c.accountID),
		VaultName:          aws.String(vaultName),
		ArchiveDescription: aws.String(description),
		Checksum:           aws.String(treeHash),
		Body:               body,
	})
	if err != nil {
		return "", wrap(err, "upload archive")
	}
	return required(out.ArchiveId, "archive id")
}

// InitiateMultipartUpload starts a multipart upload with parts of partSize
// bytes.
func (c *Client) InitiateMultipartUpload(ctx context.Context, vaultName, description string, partSize int64) (string, error) {
	out, err := c.api.InitiateMultipartUploadWithContext(ctx, &glacier.InitiateMultipartUploadInput{
		AccountId:          aws.String(c.accountID),
		VaultName:          aws.String(vaultName),
		ArchiveDescription: aws.String(description),
		PartSize:           aws.String(strconv.FormatInt(partSize, 10)),
	})
	if err != nil {
		return "", wrap(err, "initiate multipart upload")
	}
	return required(out.UploadId, "upload id")
}

// UploadPart uploads the bytes of rng.
func (c *Client) UploadPart(ctx context.Context, vaultName, uploadID, treeHash string, rng domain.ByteRange, body io.ReadSeeker) error {
	_, err := c.api.UploadMultipartPartWithContext(ctx, &glacier.UploadMultipartPartInput{
		AccountId: aws.String(c.accountID),
		VaultName: aws.String(vaultName),
		UploadId:  aws.String(uploadID),
		Checksum:  aws.String(treeHash),
		Range:     aws.String(PartRange(rng)),
		Body:      body,
	})
	if err != nil {
		return wrap(err, "upload part")
	}
	return nil
}

// CompleteMultipartUpload assembles the uploaded parts into an archive.
func (c *Client) CompleteMultipartUpload(ctx context.Context, vaultName, uploadID string, size int64, treeHash string) (string, error) {
	out, err := c.api.CompleteMultipartUploadWithContext(ctx, &glacier.CompleteMultipartUploadInput{
		AccountId:   aws.String(c.accountID),
		VaultName:   aws.String(vaultName),
		UploadId:    aws.String(uploadID),
		ArchiveSize: aws.String(strconv.FormatInt(size, 10)),
		Checksum:    aws.String(treeHash),
	})
	if err != nil {
		return "", wrap(err, "complete multipart upload")
	}
	return required(out.ArchiveId, "archive id")
}

// ListVaults returns every vault of the account.
func (c *Client) ListVaults(ctx context.Context) ([]domain.VaultInfo, error) {
	var vaults []domain.VaultInfo

	err := c.api.ListVaultsPagesWithContext(ctx, &glacier.ListVaultsInput{
		AccountId: aws.String(c.accountID),
	}, func(page *glacier.ListVaultsOutput, _ bool) bool {
		for _, v := range page.VaultList {
			vaults = append(vaults, domain.VaultInfo{
				ARN:               aws.StringValue(v.VaultARN),
				Name:              aws.StringValue(v.VaultName),
				Created:           parseTime(v.CreationDate),
				LastInventoryDate: parseTime(v.LastInventoryDate),
				ArchiveCount:      aws.Int64Value(v.NumberOfArchives),
				SizeInBytes:       aws.Int64Value(v.SizeInBytes),
			})
		}
		return true
	})
	if err != nil {
		return nil, wrap(err, "list vaults")
	}
	return vaults, nil
}

// OutputRange renders rng for job output requests.
func OutputRange(rng domain.ByteRange) string {
	return fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End)
}

// PartRange renders rng for part uploads.
func PartRange(rng domain.ByteRange) string {
	return fmt.Sprintf("bytes %d-%d/*", rng.Start, rng.End)
}

func parseTime(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func required(s *string, what string) (string, error) {
	if s == nil || *s == "" {
		return "", fmt.Errorf("%w: no %s", ErrIncomplete, what)
	}
	return *s, nil
}

func wrap(err error, op string) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == glacier.ErrCodeResourceNotFoundException {
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, aerr.Message())
	}
	return fmt.Errorf("%s: %w", op, err)
}
