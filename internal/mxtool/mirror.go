package mxtool

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorClient wraps an S3-compatible bucket holding built artifacts (boot
// images, library jars) so that slow hosted builds can be shared between
// machines.
type MirrorClient struct {
	Client     *s3.Client
	BucketName string
}

// NewMirrorClient initializes the mirror client from configuration values.
func NewMirrorClient(cfg *Config) (*MirrorClient, error) {
	endpoint := cfg.Values["mirror_endpoint"]
	accessKey := cfg.Values["mirror_access_key_id"]
	secretKey := cfg.Values["mirror_secret_access_key"]
	bucketName := cfg.Values["mirror_bucket"]

	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("mirror credentials missing in configuration (mirror_endpoint, mirror_access_key_id, mirror_secret_access_key, mirror_bucket)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion("auto"),
	}

	if Debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &MirrorClient{
		Client:     client,
		BucketName: bucketName,
	}, nil
}

func mirrorContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".jar") || strings.HasSuffix(key, ".zip"):
		return "application/java-archive"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// UploadLocalFile uploads a file from disk to the mirror.
func (m *MirrorClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(mirrorContentType(key)),
	})
	return err
}

// DownloadFile fetches an object from the mirror.
func (m *MirrorClient) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	output, err := m.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()

	return io.ReadAll(output.Body)
}

// MirrorObject is the listing metadata for one mirrored artifact.
type MirrorObject struct {
	Key  string
	Size int64
}

// ListObjects returns the mirrored artifacts under a prefix.
func (m *MirrorClient) ListObjects(ctx context.Context, prefix string) ([]MirrorObject, error) {
	var objects []MirrorObject
	paginator := s3.NewListObjectsV2Paginator(m.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.BucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, MirrorObject{
				Key:  *obj.Key,
				Size: *obj.Size,
			})
		}
	}
	return objects, nil
}

// cmdUpload pushes built artifacts to the configured mirror bucket.
func cmdUpload(env *Env, args []string) (int, error) {
	if len(args) == 0 {
		return -1, abortf(1, "usage: mx upload <file>...")
	}
	mirror, err := NewMirrorClient(env.cfg)
	if err != nil {
		return -1, abortf(1, "%v", err)
	}

	ctx := context.Background()
	for _, file := range args {
		if _, err := os.Stat(file); err != nil {
			return -1, abortf(1, "no such artifact: %s", file)
		}
		key := path.Join("artifacts", filepath.Base(file))
		env.Log("Uploading %s -> %s/%s", file, mirror.BucketName, key)
		if err := mirror.UploadLocalFile(ctx, key, file); err != nil {
			return -1, abortf(1, "upload of %s failed: %v", file, err)
		}
	}
	return 0, nil
}

// cmdPull fetches mirrored artifacts. With no arguments it lists what the
// mirror holds.
func cmdPull(env *Env, args []string) (int, error) {
	mirror, err := NewMirrorClient(env.cfg)
	if err != nil {
		return -1, abortf(1, "%v", err)
	}
	ctx := context.Background()

	if len(args) == 0 {
		objects, err := mirror.ListObjects(ctx, "artifacts/")
		if err != nil {
			return -1, abortf(1, "mirror listing failed: %v", err)
		}
		for _, obj := range objects {
			fmt.Printf("%12d  %s\n", obj.Size, strings.TrimPrefix(obj.Key, "artifacts/"))
		}
		return 0, nil
	}

	for _, name := range args {
		data, err := mirror.DownloadFile(ctx, path.Join("artifacts", name))
		if err != nil {
			return -1, abortf(1, "pull of %s failed: %v", name, err)
		}
		changed, err := Materialize(name, data)
		if err != nil {
			return -1, err
		}
		if changed {
			env.Log("Pulled %s", name)
		} else {
			env.Log("%s is up to date", name)
		}
	}
	return 0, nil
}
