package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/disintegration/imaging"
	"google.golang.org/api/option"
)

// Proof-of-transfer evidence is stored as downscaled JPEGs in GCS; the object
// name is what gets persisted on the wallet transaction.

const proofMaxWidth = 1280

func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (service account / GOOGLE_APPLICATION_CREDENTIALS).
	// For local runs, explicit JSON can be supplied via GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// SaveProofToGCS decodes base64 image data, downscales it, and uploads it
// under the given object name. Returns the stored object name.
func SaveProofToGCS(ctx context.Context, objectName, imageData string) (string, error) {
	decodedData, err := base64.StdEncoding.DecodeString(imageData)
	if err != nil {
		return "", err
	}
	bucketName := os.Getenv("GCS_BUCKET")
	if bucketName == "" {
		return "", errors.New("GCS_BUCKET is required")
	}

	img, _, err := image.Decode(bytes.NewReader(decodedData))
	if err != nil {
		return "", fmt.Errorf("decode proof image: %w", err)
	}
	if img.Bounds().Dx() > proofMaxWidth {
		img = imaging.Resize(img, proofMaxWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return "", err
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = "image/jpeg"
	if _, err := wc.Write(buf.Bytes()); err != nil {
		return "", err
	}
	if err := wc.Close(); err != nil {
		return "", err
	}
	return objectName, nil
}

// SignedProofURL returns a short-lived V4 signed URL for a stored proof object.
func SignedProofURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	bucketName := os.Getenv("GCS_BUCKET")
	if bucketName == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expiry),
	}
	return client.Bucket(bucketName).SignedURL(objectName, opts)
}
