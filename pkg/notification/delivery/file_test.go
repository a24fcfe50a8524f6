package delivery_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spendmonitor/alertengine/pkg/domain"
	"github.com/spendmonitor/alertengine/pkg/notification/delivery"
)

var _ = Describe("FileDeliveryService", func() {
	var (
		ctx     context.Context
		service delivery.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("directory creation error handling", func() {
		It("wraps directory creation errors as retryable", func() {
			By("creating a read-only parent directory")
			tempDir := GinkgoT().TempDir()
			readOnlyDir := filepath.Join(tempDir, "readonly")
			Expect(os.Mkdir(readOnlyDir, 0555)).To(Succeed())

			invalidDir := filepath.Join(readOnlyDir, "cannot-create-this")
			service = delivery.NewFileDeliveryService(invalidDir)

			notification := &domain.AlertNotification{
				RuleID:        "rule-1",
				TransactionID: "txn-1",
				Channel:       domain.ChannelEmail,
				Title:         "Test Directory Permission Error",
				Body:          "Directory creation errors should be retryable",
			}

			By("attempting delivery with permission denied")
			err := service.Deliver(ctx, notification)
			Expect(err).To(HaveOccurred(), "delivery should fail with permission denied")

			By("verifying the error is wrapped as RetryableError")
			var retryableErr *delivery.RetryableError
			Expect(err).To(BeAssignableToTypeOf(retryableErr),
				"directory creation error should be wrapped as RetryableError")

			By("verifying the error message names the directory creation failure")
			Expect(err.Error()).To(ContainSubstring("failed to create output directory"))
		})

		It("succeeds when the directory is writable", func() {
			By("creating a writable directory")
			tempDir := GinkgoT().TempDir()
			writableDir := filepath.Join(tempDir, "writable")

			service = delivery.NewFileDeliveryService(writableDir)

			notification := &domain.AlertNotification{
				RuleID:        "rule-2",
				TransactionID: "txn-2",
				Channel:       domain.ChannelEmail,
				Title:         "Test Successful Delivery",
				Body:          "Delivery should succeed with a writable directory",
			}

			By("attempting delivery with a writable directory")
			err := service.Deliver(ctx, notification)
			Expect(err).ToNot(HaveOccurred(), "delivery should succeed with writable directory")

			By("verifying a file was created")
			files, err := os.ReadDir(writableDir)
			Expect(err).ToNot(HaveOccurred())
			Expect(files).To(HaveLen(1), "exactly one notification file should be created")
		})
	})

	Context("file write error handling", func() {
		It("wraps file write errors as retryable", func() {
			By("creating a directory and making it read-only after creation")
			tempDir := GinkgoT().TempDir()
			readOnlyFileDir := filepath.Join(tempDir, "readonly-files")
			Expect(os.Mkdir(readOnlyFileDir, 0755)).To(Succeed())
			Expect(os.Chmod(readOnlyFileDir, 0555)).To(Succeed())

			service = delivery.NewFileDeliveryService(readOnlyFileDir)

			notification := &domain.AlertNotification{
				RuleID:        "rule-3",
				TransactionID: "txn-3",
				Channel:       domain.ChannelEmail,
				Title:         "Test File Write Error",
				Body:          "File write errors should be retryable",
			}

			By("attempting delivery with write permission denied")
			err := service.Deliver(ctx, notification)
			Expect(err).To(HaveOccurred(), "delivery should fail with write permission denied")

			By("verifying the error is wrapped as RetryableError")
			var retryableErr *delivery.RetryableError
			Expect(err).To(BeAssignableToTypeOf(retryableErr),
				"file write error should be wrapped as RetryableError")

			By("verifying the error message names the file write failure")
			Expect(err.Error()).To(ContainSubstring("failed to write temporary file"))
		})
	})
})
