package gam

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestGamSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "gam multi-executor scenarios")
}
