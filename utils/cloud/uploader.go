package cloud

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"haruki-hca-codec/config"
	"haruki-hca-codec/utils"
	harukiLogger "haruki-hca-codec/utils/logger"
)

var logger = harukiLogger.NewLogger("HarukiCloudStorageUploader", "INFO", nil)

func init() {
	mime.AddExtensionType(".hca", "audio/x-hca")
}

// uploadFunc copies one local file to its remote path.
type uploadFunc func(ctx context.Context, filePath string, remotePath string) error

func UploadToStorage(
	ctx context.Context,
	storage config.RemoteStorageConfig,
	exportedList []string,
	extractedSavePath string,
	workers int,
	removeLocalAfterUpload bool,
) error {
	var upload uploadFunc
	switch storage.Type {
	case utils.HarukiRemoteStorageTypeS3:
		upload = newS3Uploader(storage)
	case utils.HarukiRemoteStorageTypeExec:
		upload = execUploader(storage.Program, storage.Args)
	default:
		return fmt.Errorf("unsupported remote storage type %q", storage.Type)
	}

	semaphore := make(chan struct{}, max(workers, 1))
	errChan := make(chan error, len(exportedList))
	var wg sync.WaitGroup
	uploadFile := func(filePath string) {
		defer wg.Done()
		semaphore <- struct{}{}
		defer func() { <-semaphore }()
		relativePath, err := filepath.Rel(extractedSavePath, filePath)
		if err != nil {
			errChan <- fmt.Errorf("failed to get relative path for %s: %w", filePath, err)
			return
		}
		remotePath := remoteJoin(storage, relativePath)
		if err := upload(ctx, filePath, remotePath); err != nil {
			logger.Errorf("Failed to upload %s to %s", filePath, remotePath)
			errChan <- err
			return
		}
		logger.Infof("Successfully uploaded %s to %s", filePath, remotePath)
		if removeLocalAfterUpload {
			if err := os.Remove(filePath); err != nil {
				logger.Warnf("Failed to delete local file %s after upload: %v", filePath, err)
				errChan <- fmt.Errorf("uploaded but failed to delete local file %s: %w", filePath, err)
			} else {
				logger.Debugf("Deleted local file %s after successful upload", filePath)
			}
		}
	}
	for _, filePath := range exportedList {
		wg.Add(1)
		go uploadFile(filePath)
	}
	wg.Wait()
	close(errChan)
	var errors []error
	for err := range errChan {
		errors = append(errors, err)
	}
	if len(errors) > 0 {
		return fmt.Errorf("%d of %d uploads failed: %w", len(errors), len(exportedList), errors[0])
	}
	return nil
}

// remoteJoin places relativePath under the storage base. S3 keys always use
// forward slashes.
func remoteJoin(storage config.RemoteStorageConfig, relativePath string) string {
	if storage.Type == utils.HarukiRemoteStorageTypeS3 {
		return strings.TrimPrefix(path.Join(storage.Base, filepath.ToSlash(relativePath)), "/")
	}
	return filepath.Join(storage.Base, relativePath)
}

// execUploader runs program with args, replacing the literal arguments
// "src" and "dst" with the local and remote paths.
func execUploader(program string, uploadArgs []string) uploadFunc {
	return func(ctx context.Context, filePath string, remotePath string) error {
		args := make([]string, len(uploadArgs))
		copy(args, uploadArgs)
		for i, arg := range args {
			if arg == "src" {
				args[i] = filePath
			} else if arg == "dst" {
				args[i] = remotePath
			}
		}
		logger.Debugf("Uploading %s to %s using command: %s %s",
			filePath, remotePath, program, strings.Join(args, " "))
		cmd := exec.CommandContext(ctx, program, args...)
		cmd.Stdout = nil
		cmd.Stderr = nil
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("failed to upload %s to %s using command: %s %s: %w",
				filePath, remotePath, program, strings.Join(args, " "), err)
		}
		return nil
	}
}

func newS3Client(storage config.RemoteStorageConfig) *s3.Client {
	region := storage.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: storage.UsePathStyle,
	}
	if storage.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(storage.AccessKeyID, storage.SecretAccessKey, "")
	}
	if storage.Endpoint != "" {
		opts.BaseEndpoint = aws.String(storage.Endpoint)
	}
	return s3.New(opts)
}

func newS3Uploader(storage config.RemoteStorageConfig) uploadFunc {
	client := newS3Client(storage)
	return func(ctx context.Context, filePath string, key string) error {
		f, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", filePath, err)
		}
		defer func(f *os.File) {
			_ = f.Close()
		}(f)

		input := &s3.PutObjectInput{
			Bucket: aws.String(storage.Bucket),
			Key:    aws.String(key),
			Body:   f,
		}
		if contentType := mime.TypeByExtension(filepath.Ext(filePath)); contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		if _, err := client.PutObject(ctx, input); err != nil {
			return fmt.Errorf("failed to put s3://%s/%s: %w", storage.Bucket, key, err)
		}
		return nil
	}
}

// UploadToAllStorages uploads the files to every configured storage in turn.
// Local files are removed only after the last storage has them.
func UploadToAllStorages(
	ctx context.Context,
	exportedList []string,
	extractedSavePath string,
	removeLocal bool,
) error {
	if len(config.Cfg.RemoteStorages) == 0 {
		logger.Infof("No remote storages configured, skipping upload")
		return nil
	}

	last := len(config.Cfg.RemoteStorages) - 1
	for i, storage := range config.Cfg.RemoteStorages {
		logger.Infof("Uploading to remote storage: %s (type: %s)", storage.Base, storage.Type)
		err := UploadToStorage(
			ctx,
			storage,
			exportedList,
			extractedSavePath,
			config.Cfg.UploadWorkers(),
			removeLocal && i == last,
		)
		if err != nil {
			return fmt.Errorf("failed to upload to storage %s: %w", storage.Base, err)
		}
		logger.Infof("Successfully uploaded all files to storage: %s", storage.Base)
	}

	logger.Infof("Successfully uploaded to all configured remote storages")
	return nil
}
