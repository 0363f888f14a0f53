package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("preparePages", func() {
	It("passes PNG data through untouched", func() {
		data := tinyPNG()
		pages, err := preparePages(data, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(pages).To(Equal([][]byte{data}))
	})

	It("converts JPEG to PNG", func() {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Set(1, 1, color.Black)
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())

		pages, err := preparePages(buf.Bytes(), " IMAGE/JPEG ")
		Expect(err).NotTo(HaveOccurred())
		Expect(pages).To(HaveLen(1))
		Expect(pages[0][:8]).To(Equal([]byte("\x89PNG\r\n\x1a\n")))
	})

	It("rejects data that is not an image", func() {
		_, err := preparePages([]byte("hello"), "image/jpeg")
		Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
	})

	It("rejects a broken PDF", func() {
		_, err := preparePages([]byte("%PDF-broken"), "application/pdf")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("isHEICFormat", func() {
	It("detects the heic brand", func() {
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypheic0000"))).To(BeTrue())
	})

	It("ignores short data", func() {
		Expect(isHEICFormat([]byte("ftyp"))).To(BeFalse())
	})

	It("ignores other brands", func() {
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypisom0000"))).To(BeFalse())
	})
})
