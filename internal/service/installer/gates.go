package installer

import (
	"fmt"

	"github.com/oshokin/gameserver-deploy/internal/domain/deploy"
	"github.com/oshokin/gameserver-deploy/internal/service/common"
)

// Gates asked during a deployment. Unattended runs take the "yes" answer,
// except that a requested dump is always taken.

func overwriteDownloadGate(name string) *common.Gate {
	return &common.Gate{
		Question:   fmt.Sprintf("%s exists, overwrite?", name),
		OnPositive: deploy.Proceed,
		OnNegative: deploy.Skip,
		Unattended: deploy.Proceed,
	}
}

func extractGate(name string) *common.Gate {
	return &common.Gate{
		Question:   fmt.Sprintf("Extract %s or exit?", name),
		Negative:   common.AnswerExit,
		OnPositive: deploy.Proceed,
		OnNegative: deploy.Abort,
		Unattended: deploy.Proceed,
	}
}

func overwriteDestinationGate() *common.Gate {
	return &common.Gate{
		Question:   "Destination exists, overwrite?",
		OnPositive: deploy.Proceed,
		OnNegative: deploy.Skip,
		Unattended: deploy.Proceed,
	}
}

func drainProxyGate() *common.Gate {
	return &common.Gate{
		Question:   "Drain connections? (stop nginx)",
		OnPositive: deploy.Proceed,
		OnNegative: deploy.Skip,
		Unattended: deploy.Proceed,
	}
}

func staticMigrationsGate() *common.Gate {
	return &common.Gate{
		Question:   "Run static migrations",
		OnPositive: deploy.Proceed,
		OnNegative: deploy.Skip,
		Unattended: deploy.Proceed,
	}
}

func migrationsGate() *common.Gate {
	return &common.Gate{
		Question:   "Run migrations",
		OnPositive: deploy.Proceed,
		OnNegative: deploy.Skip,
		Unattended: deploy.Proceed,
	}
}

// skipDumpGate is phrased negatively: "y" skips the dump.
func skipDumpGate() *common.Gate {
	return &common.Gate{
		Question:   "Skip database dump",
		OnPositive: deploy.Skip,
		OnNegative: deploy.Proceed,
		Unattended: deploy.Proceed,
	}
}
