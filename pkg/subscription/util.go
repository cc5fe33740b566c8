package subscription

import (
	"time"

	"github.com/kubohiroya/hierarchidb/pkg/types"
)

func nowMillis() types.Timestamp { return types.Timestamp(time.Now().UnixMilli()) }
