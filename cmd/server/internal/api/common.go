package api

import "time"

// timeNow 测试可替换的时钟
var timeNow = time.Now
