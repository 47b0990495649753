// Package providers links every billing provider into the binary. Importing it
// fills billing.DefaultRegistry.
package providers

import (
	_ "cloudbridge/internal/providers/aliyun"
	_ "cloudbridge/internal/providers/aws"
	_ "cloudbridge/internal/providers/deepseek"
)
