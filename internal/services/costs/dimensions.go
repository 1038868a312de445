package costs

var baseDimensions = map[string][2]int{
	"1:1":  {1328, 1328},
	"16:9": {1664, 928},
	"9:16": {928, 1664},
	"4:3":  {1472, 1140},
	"3:4":  {1140, 1472},
	"3:2":  {1584, 1056},
	"2:3":  {1056, 1584},
}

// ImageDimensions returns the output size of an image job. hd and 2k render
// at the model's native size; 4k is upscaled 2x. Unknown aspect ratios fall
// back to 1:1.
func ImageDimensions(aspectRatio, resolution string) (width, height int) {
	dims, ok := baseDimensions[aspectRatio]
	if !ok {
		dims = baseDimensions["1:1"]
	}
	width, height = dims[0], dims[1]
	if resolution == "4k" {
		width, height = width*2, height*2
	}
	return width, height
}
