package vision

import "math"

// clahe equalises a byte plane tile by tile, clipping each tile histogram at
// clipLimit times the uniform bin height and blending the four nearest tile
// mappings bilinearly.
func clahe(src []float32, w, h int, clipLimit float64, tilesX, tilesY int) []float32 {
	tileW := (w + tilesX - 1) / tilesX
	tileH := (h + tilesY - 1) / tilesY
	tileArea := tileW * tileH

	clip := 0
	if clipLimit > 0 {
		clip = int(clipLimit * float64(tileArea) / 256)
		if clip < 1 {
			clip = 1
		}
	}
	lutScale := 255.0 / float64(tileArea)

	// Tiles that run past the image read mirrored samples.
	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			var hist [256]int
			for y := ty * tileH; y < (ty+1)*tileH; y++ {
				sy := reflect101(y, h)
				for x := tx * tileW; x < (tx+1)*tileW; x++ {
					hist[int(src[sy*w+reflect101(x, w)])]++
				}
			}

			if clip > 0 {
				clipped := 0
				for i := range hist {
					if hist[i] > clip {
						clipped += hist[i] - clip
						hist[i] = clip
					}
				}
				batch := clipped / 256
				residual := clipped - batch*256
				for i := range hist {
					hist[i] += batch
				}
				if residual > 0 {
					step := 256 / residual
					if step < 1 {
						step = 1
					}
					for i := 0; i < 256 && residual > 0; i += step {
						hist[i]++
						residual--
					}
				}
			}

			lut := &luts[ty*tilesX+tx]
			sum := 0
			for i := range hist {
				sum += hist[i]
				lut[i] = clampByte(math.Round(float64(sum) * lutScale))
			}
		}
	}

	dst := make([]float32, len(src))
	invTileW, invTileH := 1/float64(tileW), 1/float64(tileH)
	for y := 0; y < h; y++ {
		tyf := float64(y)*invTileH - 0.5
		ty1 := int(math.Floor(tyf))
		ty2 := ty1 + 1
		ya := tyf - float64(ty1)
		ty1 = max(ty1, 0)
		ty2 = min(ty2, tilesY-1)

		for x := 0; x < w; x++ {
			txf := float64(x)*invTileW - 0.5
			tx1 := int(math.Floor(txf))
			tx2 := tx1 + 1
			xa := txf - float64(tx1)
			tx1 = max(tx1, 0)
			tx2 = min(tx2, tilesX-1)

			v := int(src[y*w+x])
			top := float64(luts[ty1*tilesX+tx1][v])*(1-xa) + float64(luts[ty1*tilesX+tx2][v])*xa
			bottom := float64(luts[ty2*tilesX+tx1][v])*(1-xa) + float64(luts[ty2*tilesX+tx2][v])*xa
			dst[y*w+x] = float32(clampByte(top*(1-ya) + bottom*ya))
		}
	}
	return dst
}
